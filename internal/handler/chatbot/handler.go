package chatbot

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/middleware"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
	"github.com/zhouzirui/llmbot-chat/pkg/utils"
)

// Handler 助手配置管理的HTTP处理器
type Handler struct {
	profiles profile.Store
	logger   *zap.Logger
}

// New 创建处理器
func New(profiles profile.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{profiles: profiles, logger: logger.Named("chatbot")}
}

// RegisterRoutes 注册助手管理路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chatbot-management", func(r chi.Router) {
		r.Get("/chatbots", h.handleList)
		r.Post("/chatbots", h.handleCreate)
		r.Get("/default-chatbot", h.handleDefaultExists)
	})
}

type listResponse struct {
	ChatbotIDs []string          `json:"chatbot_ids"`
	Items      []profile.Profile `json:"Items"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items := h.profiles.List()
	ids := make([]string, len(items))
	for i, p := range items {
		ids[i] = p.ID
	}
	_ = utils.RespondJSON(w, http.StatusOK, listResponse{ChatbotIDs: ids, Items: items})
}

// handleDefaultExists reports whether the caller's group owns a profile.
func (h *Handler) handleDefaultExists(w http.ResponseWriter, r *http.Request) {
	group := middleware.IdentityFrom(r.Context()).Group()
	exists := false
	for _, p := range h.profiles.List() {
		if strings.EqualFold(p.GroupName, group) {
			exists = true
			break
		}
	}
	_ = utils.RespondJSON(w, http.StatusOK, exists)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller := middleware.IdentityFrom(r.Context())
	if caller.Token == "" {
		utils.RespondError(w, http.StatusUnauthorized, "login required")
		return
	}

	var payload struct {
		GroupName string `json:"groupName"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	group := strings.TrimSpace(payload.GroupName)
	if group == "" {
		utils.RespondError(w, http.StatusBadRequest, "groupName is required")
		return
	}

	id := strings.ToLower(group)
	if _, ok := h.profiles.FindByID(id); ok {
		_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"chatbotId": id})
		return
	}

	p := profile.Profile{
		ID:           id,
		GroupName:    group,
		Name:         group + " assistant",
		SystemPrompt: profile.Seed()[0].SystemPrompt,
	}
	if err := h.profiles.Create(p); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Info("chatbot created", zap.String("chatbot_id", id), zap.String("user_id", caller.UserID))
	_ = utils.RespondJSON(w, http.StatusCreated, map[string]string{"chatbotId": id})
}
