package chat

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
)

// submission is everything the submit rules look at.
type submission struct {
	turnActive bool
	query      string
	connected  bool
	settings   settings.Settings
}

// turnParams are the parsed forms of the textual settings.
type turnParams struct {
	temperature float64
	maxTokens   int
	overrides   map[string]any
}

// validate applies the submit rules in order; the first failing rule is
// the only one reported.
func validate(in submission) (turnParams, error) {
	var p turnParams
	s := in.settings

	if in.turnActive {
		return p, ErrTurnInProgress
	}
	if strings.TrimSpace(in.query) == "" {
		return p, ErrEmptyQuery
	}
	if !in.connected {
		return p, ErrNotConnected
	}
	if strings.TrimSpace(s.ModelID) == "" {
		return p, &ValidationError{Field: settings.FieldModel, Code: CodeRequireModel}
	}

	temperature := strings.TrimSpace(s.Temperature)
	if temperature == "" {
		return p, &ValidationError{Field: settings.FieldTemperature, Code: CodeRequireTemperature}
	}
	maxTokens := strings.TrimSpace(s.MaxTokens)
	if maxTokens == "" {
		return p, &ValidationError{Field: settings.FieldMaxTokens, Code: CodeRequireMaxTokens}
	}

	n, err := strconv.Atoi(maxTokens)
	if err != nil || n < 1 {
		return p, &ValidationError{Field: settings.FieldMaxTokens, Code: CodeMaxTokensRange}
	}
	p.maxTokens = n

	t, err := strconv.ParseFloat(temperature, 64)
	// NaN fails both comparisons.
	if err != nil || !(t >= 0 && t <= 1) {
		return p, &ValidationError{Field: settings.FieldTemperature, Code: CodeTemperatureRange}
	}
	p.temperature = t

	if settings.RequiresEndpoint(strings.TrimSpace(s.ModelID)) && strings.TrimSpace(s.Endpoint) == "" {
		return p, &ValidationError{Field: settings.FieldEndpoint, Code: CodeRequireEndpoint}
	}

	if raw := strings.TrimSpace(s.AdditionalConfig); raw != "" {
		overrides, ok := parseObject(raw)
		if !ok {
			return p, &ValidationError{Field: settings.FieldAdditionalConfig, Code: CodeInvalidJSON}
		}
		p.overrides = overrides
	}
	return p, nil
}

// parseObject accepts only a JSON object; arrays, scalars and null are
// rejected.
func parseObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
