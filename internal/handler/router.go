package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/handler/chat"
	"github.com/zhouzirui/llmbot-chat/internal/handler/chatbot"
	"github.com/zhouzirui/llmbot-chat/internal/handler/console"
	"github.com/zhouzirui/llmbot-chat/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/llmbot-chat/internal/middleware"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
	aiService "github.com/zhouzirui/llmbot-chat/internal/service/ai"
	"github.com/zhouzirui/llmbot-chat/internal/service/archive"
	chatService "github.com/zhouzirui/llmbot-chat/internal/service/chat"
	"github.com/zhouzirui/llmbot-chat/pkg/utils"
)

// NewBackendRouter wires the development backend: the websocket turn
// stream at /ws and the REST API under /api.
func NewBackendRouter(profiles profile.Store, archiveSvc *archive.Service, aiSvc *aiService.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.Identity(logger))

	r.Get("/healthz", handleHealth)

	stream.New(aiSvc, archiveSvc, profiles, logger).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		chatbot.New(profiles, logger).RegisterRoutes(api)
		chat.New(archiveSvc, logger).RegisterRoutes(api)
	})

	return r
}

// NewConsoleRouter exposes a controller under /api.
func NewConsoleRouter(ctrl *chatService.Controller, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", handleHealth)
	r.Route("/api", func(api chi.Router) {
		console.New(ctrl, logger).RegisterRoutes(api)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
