package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	widgethandler "github.com/zhouzirui/chatwidget/backend/internal/handler/widget"
	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	widgetmodel "github.com/zhouzirui/chatwidget/backend/internal/model/widget"
	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
	widgetservice "github.com/zhouzirui/chatwidget/backend/internal/service/widget"
	"github.com/zhouzirui/chatwidget/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler drives a widget over a websocket: the client sends commands, the
// server pushes a view after every change.
type Handler struct {
	host     *widgetservice.Host
	origins  map[string]bool
	upgrader websocket.Upgrader
}

// New creates a websocket handler. An empty allowedOrigins accepts any origin.
func New(host *widgetservice.Host, allowedOrigins []string) *Handler {
	h := &Handler{host: host, origins: make(map[string]bool, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		h.origins[o] = true
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes registers the websocket endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widgets/{widgetID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.origins[origin]
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	widget, err := h.host.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	views, unsubscribe := widget.Subscribe()
	defer unsubscribe()

	// Cancelled before unsubscribe runs, so pushLoop never mistakes a
	// disconnect for an unmount.
	ctx, cancel := context.WithCancel(logger.WithLogFields(r.Context(), logger.LogFields{
		WidgetID:  widget.ID(),
		Component: "chatwidget.ws",
	}))
	defer cancel()

	slog.InfoContext(ctx, "websocket connected")

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if err := c.send(stateMessage(widget.View())); err != nil {
		return
	}

	go h.pushLoop(ctx, cancel, c, widget, views)
	go h.pingLoop(ctx, c)

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		if ctx.Err() != nil {
			return
		}

		switch msg.Type {
		case "open":
			widget.Open(ctx)
		case "close":
			widget.Close(ctx)
		case "text":
			// Submit blocks for the whole bot round trip.
			inflight.Add(1)
			go func(text string) {
				defer inflight.Done()
				if _, err := widget.Submit(ctx, text); err != nil {
					h.sendError(ctx, c, err)
				}
			}(msg.Text)
		default:
			h.sendError(ctx, c, errors.New("unsupported message type: "+msg.Type))
		}
	}
}

// pushLoop forwards widget views to the client until the subscription ends.
func (h *Handler) pushLoop(ctx context.Context, cancel context.CancelFunc, c *conn, widget *widgetservice.Widget, views <-chan widgetmodel.View) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				err := subscriptionEnded(ctx, widget)
				if err == nil {
					return
				}
				h.sendError(ctx, c, err)
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "widget unmounted"),
					time.Now().Add(writeTimeout))
				_ = c.ws.Close()
				return
			}
			if err := c.send(stateMessage(view)); err != nil {
				slog.WarnContext(ctx, "websocket write failed", "error", err)
				_ = c.ws.Close()
				return
			}
		}
	}
}

// subscriptionEnded reports ErrDetached when the view channel closed because
// the widget was unmounted, and nil when the client went away first.
func subscriptionEnded(ctx context.Context, widget *widgetservice.Widget) error {
	if ctx.Err() != nil || widget.Mounted() {
		return nil
	}
	return conversation.ErrDetached
}

func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendError(ctx context.Context, c *conn, err error) {
	msg := outgoingMessage{
		Type: "error",
		Data: map[string]any{
			"message": err.Error(),
			"status":  widgethandler.StatusFor(err),
		},
		Timestamp: time.Now().Unix(),
	}
	if werr := c.send(msg); werr != nil {
		slog.WarnContext(ctx, "websocket write error failed", "error", werr)
	}
}

func stateMessage(view widgetmodel.View) outgoingMessage {
	return outgoingMessage{Type: "state", Data: view, Timestamp: time.Now().Unix()}
}
