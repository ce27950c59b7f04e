package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/middleware"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/service/archive"
	"github.com/zhouzirui/llmbot-chat/pkg/utils"
)

// Handler 会话历史与反馈的HTTP处理器
type Handler struct {
	archive *archive.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(archiveSvc *archive.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{archive: archiveSvc, logger: logger.Named("sessions")}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Get("/{sessionID}/messages", h.handleListMessages)
		r.Post("/{sessionID}/messages/{messageID}/feedback", h.handleFeedback)
	})
}

type itemsResponse[T any] struct {
	Items []T `json:"Items"`
	Count int `json:"Count"`
}

// handleListSessions 列出调用者的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.IdentityFrom(r.Context())
	sessions := h.archive.ListSessions(r.Context(), caller.UserID)
	_ = utils.RespondJSON(w, http.StatusOK, itemsResponse[chat.Session]{Items: sessions, Count: len(sessions)})
}

// handleListMessages 返回会话的消息历史。未知会话返回空列表。
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "page_size must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, err := h.archive.LoadTranscript(r.Context(), sessionID, limit)
	if err != nil && !errors.Is(err, archive.ErrSessionNotFound) {
		h.logger.Error("load transcript failed", zap.String("session_id", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []chat.HistoryMessage{}
	}
	_ = utils.RespondJSON(w, http.StatusOK, itemsResponse[chat.HistoryMessage]{Items: messages, Count: len(messages)})
}

// handleFeedback 记录对回答的评价
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messageID := chi.URLParam(r, "messageID")

	var payload chat.Feedback
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !payload.FeedbackType.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "unknown feedback_type")
		return
	}

	err := h.archive.SetFeedback(r.Context(), sessionID, messageID, payload.FeedbackType)
	switch {
	case errors.Is(err, archive.ErrSessionNotFound), errors.Is(err, archive.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Debug("feedback recorded",
		zap.String("session_id", sessionID),
		zap.String("message_id", messageID),
		zap.String("feedback_type", string(payload.FeedbackType)),
	)
	_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
