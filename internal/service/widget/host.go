package widget

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
)

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrWidgetNotFound    = errors.New("widget not found")
	ErrClosed            = errors.New("widget window is closed")
)

// Host keeps the widgets mounted into known containers. Every widget owns its
// own conversation; nothing is shared between instances.
type Host struct {
	transport conversation.Transport
	cfg       config.WidgetConfig
	now       func() time.Time
	newID     func() string

	mu         sync.RWMutex
	containers map[string]string // container id -> mounted widget id ("" when empty)
	widgets    map[string]*Widget
}

// HostOption customises a Host.
type HostOption func(*Host)

// WithClock replaces time.Now, used for the teaser window.
func WithClock(now func() time.Time) HostOption {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

// WithWidgetIDGenerator replaces the widget id source.
func WithWidgetIDGenerator(fn func() string) HostOption {
	return func(h *Host) {
		if fn != nil {
			h.newID = fn
		}
	}
}

// NewHost builds a host accepting mounts into cfg.Containers.
func NewHost(transport conversation.Transport, cfg config.WidgetConfig, opts ...HostOption) *Host {
	h := &Host{
		transport:  transport,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		containers: make(map[string]string, len(cfg.Containers)),
		widgets:    make(map[string]*Widget),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, id := range cfg.Containers {
		h.containers[id] = ""
	}
	return h
}

// RegisterContainer makes id available for mounting.
func (h *Host) RegisterContainer(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.containers[id]; !ok {
		h.containers[id] = ""
	}
}

// Containers lists the known container ids in sorted order.
func (h *Host) Containers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.containers))
	for id := range h.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Mount renders a fresh widget into containerID. A missing container is logged
// and reported as ErrContainerNotFound. A widget already mounted in the same
// container is unmounted first.
func (h *Host) Mount(ctx context.Context, containerID string) (*Widget, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ContainerID: containerID, Component: "chatwidget.host"})

	h.mu.Lock()
	previousID, ok := h.containers[containerID]
	if !ok {
		h.mu.Unlock()
		slog.ErrorContext(ctx, "container not found, widget not mounted")
		return nil, ErrContainerNotFound
	}

	var previous *Widget
	if previousID != "" {
		previous = h.widgets[previousID]
		delete(h.widgets, previousID)
	}

	w := newWidget(h.newID(), containerID, h.transport, h.cfg, h.now)
	h.widgets[w.id] = w
	h.containers[containerID] = w.id
	h.mu.Unlock()

	if previous != nil {
		previous.unmount()
		slog.InfoContext(ctx, "replaced mounted widget", "previous_widget_id", previous.id)
	}

	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{WidgetID: w.id}), "widget mounted")
	return w, nil
}

// Get returns a mounted widget.
func (h *Host) Get(widgetID string) (*Widget, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.widgets[widgetID]
	if !ok {
		return nil, ErrWidgetNotFound
	}
	return w, nil
}

// Unmount tears a widget down. A reply still in flight is discarded.
func (h *Host) Unmount(ctx context.Context, widgetID string) error {
	h.mu.Lock()
	w, ok := h.widgets[widgetID]
	if !ok {
		h.mu.Unlock()
		return ErrWidgetNotFound
	}
	delete(h.widgets, widgetID)
	if h.containers[w.containerID] == widgetID {
		h.containers[w.containerID] = ""
	}
	h.mu.Unlock()

	w.unmount()
	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{
		WidgetID:    w.id,
		ContainerID: w.containerID,
		Component:   "chatwidget.host",
	}), "widget unmounted")
	return nil
}

// Count returns the number of mounted widgets.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.widgets)
}
