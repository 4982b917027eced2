package logger

import (
	"context"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context carrying them.
type LogFields struct {
	WidgetID    string
	ContainerID string
	SessionID   string
	RequestID   string
	Component   string // e.g. "chatwidget.bot"
}

// WithLogFields merges fields into the context. Non-empty values replace existing ones.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields stored in ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.WidgetID != "" {
		result.WidgetID = next.WidgetID
	}
	if next.ContainerID != "" {
		result.ContainerID = next.ContainerID
	}
	if next.SessionID != "" {
		result.SessionID = next.SessionID
	}
	if next.RequestID != "" {
		result.RequestID = next.RequestID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut. The
// cut never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 0 {
		maxLen = 0
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
