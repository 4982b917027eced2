package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/handler/stream"
	widgethandler "github.com/zhouzirui/chatwidget/backend/internal/handler/widget"
	"github.com/zhouzirui/chatwidget/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/chatwidget/backend/internal/middleware"
	widgetservice "github.com/zhouzirui/chatwidget/backend/internal/service/widget"
	"github.com/zhouzirui/chatwidget/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the widget host.
func NewRouter(host *widgetservice.Host, serverCfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"widgets": host.Count(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		widgethandler.New(host).RegisterRoutes(api)

		// Push channels: SSE for plain browsers, websocket for two-way clients.
		stream.New(host).RegisterRoutes(api)
		ws.New(host, serverCfg.AllowedOrigins).RegisterRoutes(api)
	})

	return r
}
