package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/llmbot-chat/internal/model/profile"
)

const fallbackSystemPrompt = "You are a helpful assistant."

// PromptOptions are the per-turn switches that shape the system prompt.
type PromptOptions struct {
	GoodsID     string
	OnlyRAGTool bool
	Scenario    string
}

// BuildSystemPrompt renders the system prompt for a profile.
func BuildSystemPrompt(p profile.Profile, opts PromptOptions) string {
	base := strings.TrimSpace(p.SystemPrompt)
	if base == "" {
		base = fallbackSystemPrompt
	}

	var rules []string
	if opts.Scenario == "retail" && opts.GoodsID != "" {
		rules = append(rules, fmt.Sprintf("The customer is asking about goods item %s.", opts.GoodsID))
	}
	if opts.OnlyRAGTool {
		rules = append(rules, "Answer only from retrieved knowledge; say so when it does not cover the question.")
	}
	if len(rules) == 0 {
		return base
	}
	return base + "\n\nRules:\n- " + strings.Join(rules, "\n- ")
}
