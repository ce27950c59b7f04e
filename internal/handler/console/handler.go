// Package console exposes a running chat controller over HTTP so a browser
// or script can drive the same session as the terminal UI.
package console

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
	chatService "github.com/zhouzirui/llmbot-chat/internal/service/chat"
	"github.com/zhouzirui/llmbot-chat/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler 控制台HTTP处理器
type Handler struct {
	ctrl      *chatService.Controller
	heartbeat time.Duration
	logger    *zap.Logger
}

// New 创建控制台处理器
func New(ctrl *chatService.Controller, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ctrl: ctrl, heartbeat: defaultHeartbeat, logger: logger.Named("console")}
}

// RegisterRoutes 注册控制台路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleSnapshot)
	r.Post("/session", h.handleNewChat)
	r.Post("/session/resume", h.handleResume)
	r.Post("/turns", h.handleSubmit)
	r.Post("/messages/{index}/feedback", h.handleRate)
	r.Patch("/settings", h.handleUpdateSettings)
	r.Put("/settings/panel", h.handlePanel)
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	_ = utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	sessionID := h.ctrl.NewChat(r.Context())
	_ = utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.ctrl.Start(r.Context(), payload.SessionID); err != nil {
		h.logger.Warn("resume failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		respondControllerError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ctrl.Submit(payload.Query); err != nil {
		respondControllerError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusAccepted, h.ctrl.Snapshot())
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	var payload struct {
		Feedback chat.Verdict `json:"feedback"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next, err := h.ctrl.Rate(index, payload.Feedback)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, map[string]chat.Verdict{"feedback": next})
}

// handleUpdateSettings applies a partial update keyed by preference key.
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for key := range payload {
		if !knownKey(key) {
			utils.RespondError(w, http.StatusBadRequest, "unknown setting "+strconv.Quote(key))
			return
		}
	}

	err := h.ctrl.UpdateSettings(r.Context(), func(s *settings.Settings) {
		for key, value := range payload {
			s.Apply(key, value)
		}
	})
	if err != nil {
		// The in-memory update already happened; only persistence failed.
		h.logger.Warn("persist settings failed", zap.Error(err))
	}
	_ = utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handlePanel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Expanded bool `json:"expanded"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.ctrl.ExpandSettings(payload.Expanded)
	_ = utils.RespondJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// handleEvents streams a snapshot on connect and after every change.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	changes, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	if err := sse.Event("snapshot", h.ctrl.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if err := sse.Event("snapshot", h.ctrl.Snapshot()); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sse.Comment("heartbeat"); err != nil {
				return
			}
		}
	}
}

type errorResponse struct {
	Error string         `json:"error"`
	Field settings.Field `json:"field,omitempty"`
	Code  string         `json:"code,omitempty"`
}

func respondControllerError(w http.ResponseWriter, err error) {
	var verr *chatService.ValidationError
	switch {
	case errors.As(err, &verr):
		_ = utils.RespondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Field: verr.Field, Code: verr.Code})
	case errors.Is(err, chatService.ErrEmptyQuery):
		_ = utils.RespondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: settings.FieldQuery, Code: chatService.CodeRequireQuery})
	case errors.Is(err, chatService.ErrTurnInProgress), errors.Is(err, chatService.ErrHistoryLoading):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrNotConnected):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, chatService.ErrIndexOutOfRange):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrNotRateable), errors.Is(err, chatService.ErrInvalidVerdict):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrHistoryLoad):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, chatService.ErrNoActiveSession):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		utils.RespondError(w, http.StatusRequestTimeout, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}

func knownKey(key string) bool {
	for _, k := range settings.Keys() {
		if k == key {
			return true
		}
	}
	return false
}
