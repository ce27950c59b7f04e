package chat

import (
	"fmt"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

// Entry is a transcript message together with its feedback annotation.
type Entry struct {
	Index    int
	Message  chat.Message
	Feedback chat.Verdict
}

// Transcript is the append-only log of finalized messages. Messages are
// stored as immutable records; verdicts live in a separate map keyed by
// position, so annotating never rewrites history.
type Transcript struct {
	messages []chat.Message
	feedback map[int]chat.Verdict
}

// NewTranscript returns a transcript holding messages.
func NewTranscript(messages ...chat.Message) *Transcript {
	t := &Transcript{}
	t.ReplaceAll(messages)
	return t
}

// Append adds msg at the tail and returns its position.
func (t *Transcript) Append(msg chat.Message) int {
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// SetFeedback toggles the verdict at index: setting the verdict already
// present clears it. The resulting verdict is returned.
func (t *Transcript) SetFeedback(index int, verdict chat.Verdict) (chat.Verdict, error) {
	if index < 0 || index >= len(t.messages) {
		return chat.VerdictNone, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if !verdict.Valid() {
		return chat.VerdictNone, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	next := verdict
	if t.feedback[index] == verdict {
		next = chat.VerdictNone
	}
	if next == chat.VerdictNone {
		delete(t.feedback, index)
	} else {
		if t.feedback == nil {
			t.feedback = make(map[int]chat.Verdict)
		}
		t.feedback[index] = next
	}
	return next, nil
}

// Feedback returns the verdict at index.
func (t *Transcript) Feedback(index int) chat.Verdict {
	return t.feedback[index]
}

// At returns the message at index.
func (t *Transcript) At(index int) (chat.Message, bool) {
	if index < 0 || index >= len(t.messages) {
		return chat.Message{}, false
	}
	return t.messages[index], true
}

// Len is the number of messages.
func (t *Transcript) Len() int { return len(t.messages) }

// List returns the messages in conversation order with their verdicts.
func (t *Transcript) List() []Entry {
	out := make([]Entry, len(t.messages))
	for i, msg := range t.messages {
		out[i] = Entry{Index: i, Message: msg, Feedback: t.feedback[i]}
	}
	return out
}

// ReplaceAll swaps in a whole conversation and clears every verdict.
func (t *Transcript) ReplaceAll(messages []chat.Message) {
	t.messages = append([]chat.Message(nil), messages...)
	t.feedback = make(map[int]chat.Verdict)
}

// FromHistory converts stored history into transcript messages, expanding
// AI attachments exactly like a live CONTEXT event.
func FromHistory(history []chat.HistoryMessage) []chat.Message {
	out := make([]chat.Message, 0, len(history))
	for _, h := range history {
		content := h.Content
		if h.Role == chat.RoleAI {
			content += RenderFigures(h.Figures())
		}
		out = append(out, chat.Message{ID: h.MessageID, Role: h.Role, Content: content})
	}
	return out
}
