package chat

import (
	"encoding/json"
	"fmt"
)

// ModelKwargs are the sampling parameters of a turn.
type ModelKwargs struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// LLMConfig selects the generation model for a turn.
type LLMConfig struct {
	ModelID      string      `json:"model_id"`
	EndpointName string      `json:"endpoint_name"`
	ModelKwargs  ModelKwargs `json:"model_kwargs"`
}

// AgentConfig restricts the tools the agent may call.
type AgentConfig struct {
	OnlyUseRAGTool bool `json:"only_use_rag_tool"`
}

// ChatbotConfig is the configuration block sent with every turn.
type ChatbotConfig struct {
	GroupName        string      `json:"group_name"`
	ChatbotID        string      `json:"chatbot_id"`
	GoodsID          string      `json:"goods_id"`
	ChatbotMode      string      `json:"chatbot_mode"`
	UseHistory       bool        `json:"use_history"`
	EnableTrace      bool        `json:"enable_trace"`
	UseWebsearch     bool        `json:"use_websearch"`
	GoogleAPIKey     string      `json:"google_api_key"`
	DefaultLLMConfig LLMConfig   `json:"default_llm_config"`
	AgentConfig      AgentConfig `json:"agent_config"`
}

// Merge overlays overrides onto the config block. The merge is shallow:
// a top-level key in overrides replaces the generated value wholesale.
func (c ChatbotConfig) Merge(overrides map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chatbot config: %w", err)
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal chatbot config: %w", err)
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

// TurnRequest is the outgoing frame that starts a turn.
type TurnRequest struct {
	Query         string         `json:"query"`
	EntryType     string         `json:"entry_type"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	ChatbotConfig map[string]any `json:"chatbot_config"`
}

// Config decodes the chatbot_config block back into its typed form. Keys
// that were overridden with incompatible types are reported as an error.
func (r TurnRequest) Config() (ChatbotConfig, error) {
	var cfg ChatbotConfig
	raw, err := json.Marshal(r.ChatbotConfig)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode chatbot config: %w", err)
	}
	return cfg, nil
}
