package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	"github.com/zhouzirui/chatwidget/backend/internal/model/chat"
)

var (
	ErrUnexpectedStatus  = errors.New("unexpected bot response status")
	ErrMalformedResponse = errors.New("malformed bot response")
)

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 1 << 20

var tracer = otel.Tracer("github.com/zhouzirui/chatwidget/backend/internal/service/bot")

// Request carries the per-message fields of a bot call.
type Request struct {
	UserName  string
	SessionID string
	Text      string
}

// Reply is the outcome of a bot call.
// Found is false when the bot answered without output.text.
// Fallback is true when the call failed and Text holds the apology message.
type Reply struct {
	Text     string
	Found    bool
	Fallback bool
}

type payload struct {
	Brand          string `json:"brand"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ChatHeadID     string `json:"chat_head_id"`
	InputMessageID string `json:"input_message_id"`
	Message        string `json:"message"`
	SessionID      string `json:"session_id"`
}

type response struct {
	Output *struct {
		Text *string `json:"text"`
	} `json:"output"`
}

// Client posts visitor messages to the remote bot-message endpoint.
type Client struct {
	cfg        config.BotConfig
	httpClient *http.Client
	newID      func() string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithIDGenerator replaces the session id source used when a request has none.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient builds a client for the configured endpoint.
func NewClient(cfg config.BotConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage performs a single POST for req. It never retries.
// On failure the returned Reply carries the fallback text alongside the error.
func (c *Client) SendMessage(ctx context.Context, req Request) (Reply, error) {
	if req.SessionID == "" {
		req.SessionID = c.newID()
		slog.WarnContext(ctx, "bot request without session id, generated one",
			"session_id", req.SessionID)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionID: req.SessionID, Component: "chatwidget.bot"})
	ctx, span := tracer.Start(ctx, "bot.SendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatwidget.session_id", req.SessionID),
		attribute.Int("chatwidget.message_length", len(req.Text)),
	)

	reply, err := c.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "bot request failed", "error", err)
		return Reply{Text: chat.FallbackReply, Fallback: true}, err
	}

	span.SetAttributes(attribute.Bool("chatwidget.reply_found", reply.Found))
	slog.DebugContext(ctx, "bot replied",
		"found", reply.Found,
		"reply", logger.Truncate(reply.Text, 120))
	return reply, nil
}

func (c *Client) send(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(payload{
		Brand:          c.cfg.Brand,
		UserID:         c.cfg.UserID,
		UserName:       req.UserName,
		ChatHeadID:     c.cfg.ChatHeadID,
		InputMessageID: c.cfg.InputMessageID,
		Message:        req.Text,
		SessionID:      req.SessionID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("encode bot payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build bot request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.HasCredential() {
		httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("post bot message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Reply{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var decoded response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if decoded.Output == nil || decoded.Output.Text == nil || *decoded.Output.Text == "" {
		return Reply{}, nil
	}
	return Reply{Text: *decoded.Output.Text, Found: true}, nil
}
