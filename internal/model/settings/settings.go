// Package settings describes the per-turn generation configuration the user
// edits between turns, and the catalog it is validated against.
package settings

import "strconv"

// Field names a settings input that can carry a validation error.
type Field string

const (
	FieldQuery            Field = "query"
	FieldModel            Field = "model"
	FieldTemperature      Field = "temperature"
	FieldMaxTokens        Field = "maxTokens"
	FieldEndpoint         Field = "endpoint"
	FieldAdditionalConfig Field = "additionalConfig"
)

// Preference keys. Each persisted field is stored under its own key.
const (
	KeyScenario         = "scenario"
	KeyGoodsID          = "goods_id"
	KeyChatbot          = "current_chat_bot"
	KeyModel            = "model_option"
	KeyEndpoint         = "endpoint"
	KeyTemperature      = "temperature"
	KeyMaxTokens        = "max_token"
	KeyUseHistory       = "use_chat_history"
	KeyEnableTrace      = "enable_trace"
	KeyOnlyRAGTool      = "only_rag_tool"
	KeyAdditionalConfig = "additional_settings"
)

const (
	DefaultTemperature = "0.01"
	DefaultMaxTokens   = "1000"
)

// Settings is the turn configuration as entered by the user. Numeric fields
// stay textual until validation so that an empty field can be reported as
// such rather than silently defaulted.
type Settings struct {
	Scenario         string `json:"scenario" yaml:"scenario"`
	GoodsID          string `json:"goodsId" yaml:"goods_id"`
	ChatbotID        string `json:"chatbotId" yaml:"chatbot_id"`
	ModelID          string `json:"modelId" yaml:"model_id"`
	Endpoint         string `json:"endpoint" yaml:"endpoint"`
	Temperature      string `json:"temperature" yaml:"temperature"`
	MaxTokens        string `json:"maxTokens" yaml:"max_tokens"`
	UseHistory       bool   `json:"useHistory" yaml:"use_history"`
	EnableTrace      bool   `json:"enableTrace" yaml:"enable_trace"`
	OnlyRAGTool      bool   `json:"onlyRagTool" yaml:"only_rag_tool"`
	AdditionalConfig string `json:"additionalConfig" yaml:"additional_config"`
}

// Defaults returns the configuration used before anything was persisted.
func Defaults() Settings {
	return Settings{
		Scenario:    ScenarioCommon,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		UseHistory:  true,
		EnableTrace: true,
	}
}

// Values flattens the settings into preference key/value pairs.
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyScenario:         s.Scenario,
		KeyGoodsID:          s.GoodsID,
		KeyChatbot:          s.ChatbotID,
		KeyModel:            s.ModelID,
		KeyEndpoint:         s.Endpoint,
		KeyTemperature:      s.Temperature,
		KeyMaxTokens:        s.MaxTokens,
		KeyUseHistory:       strconv.FormatBool(s.UseHistory),
		KeyEnableTrace:      strconv.FormatBool(s.EnableTrace),
		KeyOnlyRAGTool:      strconv.FormatBool(s.OnlyRAGTool),
		KeyAdditionalConfig: s.AdditionalConfig,
	}
}

// Apply sets the field stored under key. Unknown keys and unparsable
// booleans are ignored so a corrupted preference never blocks startup.
func (s *Settings) Apply(key, value string) {
	switch key {
	case KeyScenario:
		if IsScenario(value) {
			s.Scenario = value
		}
	case KeyGoodsID:
		s.GoodsID = value
	case KeyChatbot:
		s.ChatbotID = value
	case KeyModel:
		s.ModelID = value
	case KeyEndpoint:
		s.Endpoint = value
	case KeyTemperature:
		s.Temperature = value
	case KeyMaxTokens:
		s.MaxTokens = value
	case KeyUseHistory:
		applyBool(&s.UseHistory, value)
	case KeyEnableTrace:
		applyBool(&s.EnableTrace, value)
	case KeyOnlyRAGTool:
		applyBool(&s.OnlyRAGTool, value)
	case KeyAdditionalConfig:
		s.AdditionalConfig = value
	}
}

// Changed lists the preference keys whose values differ between s and next.
func (s Settings) Changed(next Settings) []string {
	before, after := s.Values(), next.Values()
	var keys []string
	for _, key := range Keys() {
		if before[key] != after[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

// FieldForKey maps a preference key to the input that displays its error.
func FieldForKey(key string) (Field, bool) {
	switch key {
	case KeyModel:
		return FieldModel, true
	case KeyTemperature:
		return FieldTemperature, true
	case KeyMaxTokens:
		return FieldMaxTokens, true
	case KeyEndpoint:
		return FieldEndpoint, true
	case KeyAdditionalConfig:
		return FieldAdditionalConfig, true
	}
	return "", false
}

// Keys returns every persisted key in a stable order.
func Keys() []string {
	return []string{
		KeyScenario, KeyGoodsID, KeyChatbot, KeyModel, KeyEndpoint,
		KeyTemperature, KeyMaxTokens, KeyUseHistory, KeyEnableTrace,
		KeyOnlyRAGTool, KeyAdditionalConfig,
	}
}

func applyBool(dst *bool, value string) {
	if v, err := strconv.ParseBool(value); err == nil {
		*dst = v
	}
}
