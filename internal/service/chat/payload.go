package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
)

const chatbotModeAgent = "agent"

// buildRequest assembles the frame that starts a turn.
func buildRequest(query, sessionID string, id identity.Identity, s settings.Settings, p turnParams) (chat.TurnRequest, error) {
	modelID := strings.TrimSpace(s.ModelID)
	endpoint := ""
	if settings.RequiresEndpoint(modelID) {
		endpoint = strings.TrimSpace(s.Endpoint)
	}

	cfg := chat.ChatbotConfig{
		GroupName:    id.Group(),
		ChatbotID:    s.ChatbotID,
		GoodsID:      s.GoodsID,
		ChatbotMode:  chatbotModeAgent,
		UseHistory:   s.UseHistory,
		EnableTrace:  s.EnableTrace,
		UseWebsearch: true,
		DefaultLLMConfig: chat.LLMConfig{
			ModelID:      modelID,
			EndpointName: endpoint,
			ModelKwargs: chat.ModelKwargs{
				Temperature: p.temperature,
				MaxTokens:   p.maxTokens,
			},
		},
		AgentConfig: chat.AgentConfig{OnlyUseRAGTool: s.OnlyRAGTool},
	}
	merged, err := cfg.Merge(p.overrides)
	if err != nil {
		return chat.TurnRequest{}, err
	}

	userID := id.UserID
	if userID == "" {
		userID = identity.DefaultUserID
	}
	return chat.TurnRequest{
		Query:         query,
		EntryType:     s.Scenario,
		SessionID:     sessionID,
		UserID:        userID,
		ChatbotConfig: merged,
	}, nil
}

func encodeRequest(req chat.TurnRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode turn request: %w", err)
	}
	return string(raw), nil
}
