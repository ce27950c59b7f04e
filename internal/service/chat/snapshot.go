package chat

import (
	"maps"
	"time"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
)

// MessageView is one transcript row as rendered.
type MessageView struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Role     chat.Role    `json:"role"`
	Content  string       `json:"content"`
	Trace    string       `json:"trace,omitempty"`
	Feedback chat.Verdict `json:"feedback,omitempty"`
	Rateable bool         `json:"rateable"`
}

// InFlight is the partial answer of the active turn.
type InFlight struct {
	Content   string    `json:"content"`
	Trace     string    `json:"trace,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// View is a consistent copy of everything a renderer needs.
type View struct {
	SessionID        string                    `json:"sessionId"`
	Messages         []MessageView             `json:"messages"`
	InFlight         *InFlight                 `json:"inFlight,omitempty"`
	Connection       string                    `json:"connection"`
	Busy             bool                      `json:"busy"`
	LoadingHistory   bool                      `json:"loadingHistory"`
	Settings         settings.Settings         `json:"settings"`
	Models           []string                  `json:"models"`
	Chatbots         []string                  `json:"chatbots"`
	FieldErrors      map[settings.Field]string `json:"fieldErrors,omitempty"`
	SettingsExpanded bool                      `json:"settingsExpanded"`
	Notice           string                    `json:"notice,omitempty"`
}

// Snapshot copies the current session state.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.transcript.List()
	messages := make([]MessageView, len(entries))
	for i, e := range entries {
		messages[i] = MessageView{
			Index:    e.Index,
			ID:       e.Message.ID,
			Role:     e.Message.Role,
			Content:  e.Message.Content,
			Trace:    e.Message.Trace,
			Feedback: e.Feedback,
			Rateable: rateable(e.Message),
		}
	}

	v := View{
		SessionID:        c.sessionID,
		Messages:         messages,
		Connection:       c.connection,
		Busy:             c.loadingHistory || c.turn.Active(),
		LoadingHistory:   c.loadingHistory,
		Settings:         c.settings,
		Models:           settings.Models(c.settings.Scenario),
		Chatbots:         append([]string(nil), c.chatbots...),
		FieldErrors:      maps.Clone(c.fieldErrors),
		SettingsExpanded: c.settingsExpanded,
		Notice:           c.notice,
	}
	if c.turn.Active() {
		v.InFlight = &InFlight{
			Content:   c.turn.Content(),
			Trace:     c.turn.Trace(),
			StartedAt: c.turn.StartedAt(),
		}
	}
	return v
}
