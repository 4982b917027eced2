package widget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	"github.com/zhouzirui/chatwidget/backend/internal/model/chat"
	widgetmodel "github.com/zhouzirui/chatwidget/backend/internal/model/widget"
	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
)

// subscriberBuffer bounds the views queued per subscriber. When it is full the
// oldest queued view is dropped, so a slow reader always ends on the latest one.
const subscriberBuffer = 16

// Widget is one mounted chat widget: a window that can be opened and closed
// around a single conversation.
type Widget struct {
	id          string
	containerID string
	conv        *conversation.Conversation
	now         func() time.Time
	teaserUntil time.Time

	mu      sync.Mutex
	open    bool
	mounted bool
	nextSub int
	subs    map[int]chan widgetmodel.View
}

func newWidget(id, containerID string, transport conversation.Transport, cfg config.WidgetConfig, now func() time.Time) *Widget {
	w := &Widget{
		id:          id,
		containerID: containerID,
		now:         now,
		teaserUntil: now().Add(cfg.TeaserDuration),
		mounted:     true,
		subs:        make(map[int]chan widgetmodel.View),
	}

	opts := []conversation.Option{conversation.WithObserver(func(chat.Snapshot) { w.publish() })}
	if cfg.SilentEmptyReply {
		opts = append(opts, conversation.WithSilentEmptyReply())
	}
	w.conv = conversation.New(transport, opts...)
	return w
}

// ID returns the widget identifier.
func (w *Widget) ID() string { return w.id }

// ContainerID returns the container the widget is mounted into.
func (w *Widget) ContainerID() string { return w.containerID }

// Open shows the chat window. The session starts the first time the window
// opens with an empty transcript.
func (w *Widget) Open(ctx context.Context) widgetmodel.View {
	w.mu.Lock()
	w.open = true
	w.mu.Unlock()

	if w.conv.Start() {
		snap := w.conv.Snapshot()
		slog.InfoContext(w.logContext(ctx, snap.SessionID), "chat session started")
	} else {
		w.publish()
	}
	return w.View()
}

// Close hides the chat window. The conversation is kept and resumes on reopen.
func (w *Widget) Close(ctx context.Context) widgetmodel.View {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()

	w.publish()
	return w.View()
}

// Submit forwards visitor input to the conversation. The window must be open.
func (w *Widget) Submit(ctx context.Context, text string) (widgetmodel.View, error) {
	w.mu.Lock()
	open, mounted := w.open, w.mounted
	w.mu.Unlock()

	if !mounted {
		return w.View(), conversation.ErrDetached
	}
	if !open {
		return w.View(), ErrClosed
	}

	ctx = w.logContext(ctx, w.conv.Snapshot().SessionID)
	res, err := w.conv.Submit(ctx, text)
	if err != nil {
		slog.WarnContext(ctx, "submit rejected", "error", err)
		return w.View(), err
	}
	if !res.Ignored {
		slog.DebugContext(ctx, "submit handled", "remote", res.Remote)
	}
	return w.View(), nil
}

// View returns the current render state.
func (w *Widget) View() widgetmodel.View {
	snap := w.conv.Snapshot()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked(snap)
}

// Subscribe returns a channel receiving a view after every change, and a
// function releasing it. The channel is closed when the widget is unmounted.
func (w *Widget) Subscribe() (<-chan widgetmodel.View, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan widgetmodel.View, subscriberBuffer)
	if !w.mounted {
		close(ch)
		return ch, func() {}
	}

	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if sub, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(sub)
		}
	}
}

// Mounted reports whether the widget is still mounted.
func (w *Widget) Mounted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mounted
}

func (w *Widget) unmount() {
	w.conv.Detach()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.mounted = false
	w.open = false
	for id, sub := range w.subs {
		delete(w.subs, id)
		close(sub)
	}
}

// publish reads the conversation under w.mu, so publications are ordered and
// the last one always carries the current state.
func (w *Widget) publish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.subs) == 0 {
		return
	}
	view := w.viewLocked(w.conv.Snapshot())
	for _, sub := range w.subs {
		select {
		case sub <- view:
			continue
		default:
		}
		// Full: drop the oldest view. Only publish sends, and it holds w.mu.
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- view:
		default:
		}
	}
}

func (w *Widget) viewLocked(snap chat.Snapshot) widgetmodel.View {
	view := widgetmodel.View{
		ID:           w.id,
		ContainerID:  w.containerID,
		Open:         w.open,
		Placeholder:  widgetmodel.PlaceholderFor(snap.Phase),
		Typing:       snap.Pending,
		Conversation: snap,
	}
	if !w.open && w.mounted && w.now().Before(w.teaserUntil) {
		view.Teaser = chat.NameAck
	}
	return view
}

func (w *Widget) logContext(ctx context.Context, sessionID string) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		WidgetID:    w.id,
		ContainerID: w.containerID,
		SessionID:   sessionID,
		Component:   "chatwidget.widget",
	})
}
