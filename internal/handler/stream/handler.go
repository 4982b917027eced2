package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	widgetservice "github.com/zhouzirui/chatwidget/backend/internal/service/widget"
	"github.com/zhouzirui/chatwidget/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler streams widget views as Server-Sent Events.
type Handler struct {
	host      *widgetservice.Host
	heartbeat time.Duration
}

// New creates a stream handler.
func New(host *widgetservice.Host) *Handler {
	return &Handler{host: host, heartbeat: defaultHeartbeat}
}

// RegisterRoutes registers the events endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widgets/{widgetID}/events", h.handleEvents)
}

// handleEvents sends the current view, then one "state" event per change,
// until the client goes away or the widget is unmounted.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	widget, err := h.host.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	views, cancel := widget.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := logger.WithLogFields(r.Context(), logger.LogFields{WidgetID: widget.ID(), Component: "chatwidget.stream"})
	slog.DebugContext(ctx, "event stream opened")

	if err := utils.SendSSEEvent(w, flusher, "state", widget.View()); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "event stream closed by client")
			return
		case view, ok := <-views:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "unmounted", map[string]string{"id": widget.ID()})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "state", view); err != nil {
				slog.WarnContext(ctx, "failed to write sse event", "error", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
