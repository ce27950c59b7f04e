// Package ai generates streamed answers for the development backend.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/config"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
)

const historyLimit = 10

// Request is one turn to answer.
type Request struct {
	Profile     profile.Profile
	History     []chat.HistoryMessage
	Query       string
	UseHistory  bool
	Temperature float64
	MaxTokens   int
	Prompt      PromptOptions
}

// Service encapsulates AI-powered chat functionality. Without ark
// credentials it runs as an echo responder so the wire protocol can be
// exercised offline.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService creates a new AI service instance.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ai")

	if !cfg.Enabled() {
		logger.Info("ark not configured, answering with echo responder")
		return &Service{logger: logger}, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newChainService(ctx, chatModel, logger)
}

// NewServiceWithModel builds the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newChainService(ctx, chatModel, logger.Named("ai"))
}

func newChainService(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &Service{chain: runnable, logger: logger}, nil
}

// Echo reports whether answers are produced without a model.
func (s *Service) Echo() bool {
	return s.chain == nil
}

// Stream answers req as a stream of message deltas.
func (s *Service) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if s.Echo() {
		return schema.StreamReaderFromArray(echoDeltas(req)), nil
	}

	var opts []model.Option
	if req.Temperature >= 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(req), compose.WithChatModelOption(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(req Request) map[string]any {
	var history []*schema.Message
	if req.UseHistory {
		history = buildHistoryMessages(req.History)
	}
	return map[string]any{
		"system":  BuildSystemPrompt(req.Profile, req.Prompt),
		"history": history,
		"query":   req.Query,
	}
}

func buildHistoryMessages(messages []chat.HistoryMessage) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleHuman:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAI:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// echoDeltas splits a canned reply into word-sized deltas so clients see
// several CHUNK frames per turn.
func echoDeltas(req Request) []*schema.Message {
	reply := fmt.Sprintf("[%s] You said: %s", req.Profile.ID, strings.TrimSpace(req.Query))
	if req.UseHistory && len(req.History) > 0 {
		reply += fmt.Sprintf(" (%d earlier messages)", len(req.History))
	}

	words := strings.SplitAfter(reply, " ")
	deltas := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		deltas = append(deltas, schema.AssistantMessage(w, nil))
	}
	return deltas
}
