// Package stream answers turns over the websocket event protocol: every
// turn is streamed back as START, optional MONITOR, CHUNK deltas,
// CONTEXT and END frames.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/middleware"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
	"github.com/zhouzirui/llmbot-chat/internal/service/ai"
	"github.com/zhouzirui/llmbot-chat/internal/service/archive"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	queueSize    = 8

	generationFailed = "Sorry, the answer could not be generated."
)

// Handler manages websocket turn streams.
type Handler struct {
	ai       *ai.Service
	archive  *archive.Service
	profiles profile.Store
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates a new stream handler.
func New(aiSvc *ai.Service, archiveSvc *archive.Service, profiles profile.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ai:       aiSvc,
		archive:  archiveSvc,
		profiles: profiles,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("stream"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	caller := middleware.IdentityFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("user_id", caller.UserID))
	logger.Info("connection opened", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, conn)

	// Turns are answered one at a time off the read loop so pongs keep
	// being processed while a long answer streams.
	turns := make(chan chat.TurnRequest, queueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range turns {
			if ctx.Err() != nil {
				return
			}
			if err := h.answer(ctx, conn, req); err != nil {
				logger.Warn("turn aborted", zap.String("session_id", req.SessionID), zap.Error(err))
				cancel()
				conn.Close()
				return
			}
		}
	}()

	defer func() {
		cancel()
		close(turns)
		<-done
		logger.Info("connection closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var req chat.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("dropping malformed turn request", zap.Error(err))
			continue
		}
		if strings.TrimSpace(req.Query) == "" || req.SessionID == "" {
			logger.Warn("dropping incomplete turn request", zap.String("session_id", req.SessionID))
			continue
		}

		select {
		case turns <- req:
		case <-ctx.Done():
			return
		}
	}
}

// answer streams one turn. A non-nil error means the connection is no
// longer writable.
func (h *Handler) answer(ctx context.Context, conn *websocket.Conn, req chat.TurnRequest) error {
	cfg, err := req.Config()
	if err != nil {
		h.logger.Debug("chatbot config has unexpected types, using defaults", zap.Error(err))
	}
	p := h.resolveProfile(cfg.ChatbotID)

	if _, err := h.archive.EnsureSession(ctx, req.SessionID, req.UserID, p.ID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	history, err := h.archive.LoadTranscript(ctx, req.SessionID, 0)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if _, err := h.archive.SaveMessage(ctx, req.SessionID, chat.RoleHuman, req.Query, nil); err != nil {
		return fmt.Errorf("save query: %w", err)
	}

	if err := h.write(conn, chat.Event{Kind: chat.EventStart}); err != nil {
		return err
	}
	if cfg.EnableTrace {
		trace := fmt.Sprintf("**Chatbot**: %s\n\n**Model**: %s\n\n**History**: %d messages\n\n",
			p.ID, cfg.DefaultLLMConfig.ModelID, len(history))
		if err := h.write(conn, chat.NewMonitorEvent(trace)); err != nil {
			return err
		}
	}

	content, err := h.streamAnswer(ctx, conn, ai.Request{
		Profile:     p,
		History:     history,
		Query:       req.Query,
		UseHistory:  cfg.UseHistory,
		Temperature: cfg.DefaultLLMConfig.ModelKwargs.Temperature,
		MaxTokens:   cfg.DefaultLLMConfig.ModelKwargs.MaxTokens,
		Prompt: ai.PromptOptions{
			GoodsID:     cfg.GoodsID,
			OnlyRAGTool: cfg.AgentConfig.OnlyUseRAGTool,
			Scenario:    req.EntryType,
		},
	})
	var writeErr *writeError
	if errors.As(err, &writeErr) {
		return err
	}
	if err != nil {
		h.logger.Error("generation failed", zap.String("session_id", req.SessionID), zap.Error(err))
		if err := h.write(conn, chat.NewChunkEvent(generationFailed)); err != nil {
			return err
		}
		content += generationFailed
	}

	figures := profileFigures(p)
	if len(figures) > 0 {
		if err := h.write(conn, chat.NewContextEvent(figures)); err != nil {
			return err
		}
	}

	saved, err := h.archive.SaveMessage(ctx, req.SessionID, chat.RoleAI, content, figures)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return h.write(conn, chat.Event{Kind: chat.EventEnd, MessageID: saved.MessageID})
}

func (h *Handler) streamAnswer(ctx context.Context, conn *websocket.Conn, req ai.Request) (string, error) {
	stream, err := h.ai.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return sb.String(), nil
		}
		if recvErr != nil {
			return sb.String(), recvErr
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if err := h.write(conn, chat.NewChunkEvent(chunk.Content)); err != nil {
			return sb.String(), err
		}
	}
}

// resolveProfile falls back to the first profile for unknown ids.
func (h *Handler) resolveProfile(id string) profile.Profile {
	if p, ok := h.profiles.FindByID(id); ok {
		return p
	}
	if items := h.profiles.List(); len(items) > 0 {
		return items[0]
	}
	return profile.Profile{ID: id}
}

func profileFigures(p profile.Profile) []chat.Figure {
	if len(p.Figures) == 0 {
		return nil
	}
	figures := make([]chat.Figure, 0, len(p.Figures))
	for _, fp := range p.Figures {
		figures = append(figures, chat.Figure{
			ContentType: strings.TrimPrefix(path.Ext(fp), "."),
			FigurePath:  fp,
		})
	}
	return figures
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "write frame: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func (h *Handler) write(conn *websocket.Conn, ev chat.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		return &writeError{err: err}
	}
	return nil
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
