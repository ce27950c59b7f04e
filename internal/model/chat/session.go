package chat

import "time"

// Session captures a conversation known to the history store.
type Session struct {
	ID        string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	ChatbotID string    `json:"chatbotId,omitempty"`
	CreatedAt time.Time `json:"createTimestamp"`
}
