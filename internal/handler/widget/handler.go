package widget

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
	widgetservice "github.com/zhouzirui/chatwidget/backend/internal/service/widget"
	"github.com/zhouzirui/chatwidget/backend/pkg/utils"
)

// Handler exposes widget lifecycle and messaging over HTTP.
type Handler struct {
	host *widgetservice.Host
}

// New creates a widget handler.
func New(host *widgetservice.Host) *Handler {
	return &Handler{host: host}
}

// RegisterRoutes registers widget routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/containers", h.handleListContainers)
	r.Post("/widgets", h.handleMount)
	r.Get("/widgets/{widgetID}", h.handleGet)
	r.Delete("/widgets/{widgetID}", h.handleUnmount)
	r.Post("/widgets/{widgetID}/open", h.handleOpen)
	r.Post("/widgets/{widgetID}/close", h.handleClose)
	r.Post("/widgets/{widgetID}/messages", h.handleSubmit)
}

func (h *Handler) handleListContainers(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"containers": h.host.Containers()})
}

// handleMount mounts a new widget into a container.
func (h *Handler) handleMount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContainerID string `json:"containerId"`
	}

	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.ContainerID == "" {
		utils.RespondError(w, http.StatusBadRequest, "containerId is required")
		return
	}

	widget, err := h.host.Mount(r.Context(), payload.ContainerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, widget.View())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, widget.View())
}

func (h *Handler) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Unmount(r.Context(), chi.URLParam(r, "widgetID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, widget.Open(r.Context()))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, widget.Close(r.Context()))
}

// handleSubmit sends visitor input and answers once the reply is in the transcript.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := widget.Submit(r.Context(), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*widgetservice.Widget, bool) {
	widget, err := h.host.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return widget, true
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, widgetservice.ErrContainerNotFound), errors.Is(err, widgetservice.ErrWidgetNotFound):
		return http.StatusNotFound
	case errors.Is(err, widgetservice.ErrClosed),
		errors.Is(err, conversation.ErrPending),
		errors.Is(err, conversation.ErrNotStarted):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrDetached):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondError(w, StatusFor(err), err.Error())
}
