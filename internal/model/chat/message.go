package chat

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Verdict is the feedback annotation a user can attach to an AI answer.
// The string values are the feedback_type values understood by the backend.
type Verdict string

const (
	VerdictNone     Verdict = ""
	VerdictPositive Verdict = "thumb_up"
	VerdictNegative Verdict = "thumb_down"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictNone, VerdictPositive, VerdictNegative:
		return true
	}
	return false
}

// Message is a finalized transcript entry. Records are never edited once
// appended; feedback is tracked beside them by the transcript.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Trace   string `json:"trace,omitempty"`
}

// Figure is an inline attachment reference produced by the answer pipeline.
type Figure struct {
	ContentType string `json:"content_type"`
	FigurePath  string `json:"figure_path"`
}

// AdditionalKwargs carries optional attachments on events and stored messages.
type AdditionalKwargs struct {
	Figure []Figure `json:"figure,omitempty"`
}

// HistoryMessage is one entry returned by the session history endpoint.
type HistoryMessage struct {
	MessageID        string            `json:"messageId"`
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	AdditionalKwargs *AdditionalKwargs `json:"additional_kwargs,omitempty"`
	CreateTimestamp  string            `json:"createTimestamp,omitempty"`
}

// Figures returns the attachments of a history entry, if any.
func (m HistoryMessage) Figures() []Figure {
	if m.AdditionalKwargs == nil {
		return nil
	}
	return m.AdditionalKwargs.Figure
}

// Feedback is the payload posted to the feedback endpoint.
type Feedback struct {
	SessionID      string  `json:"-"`
	MessageID      string  `json:"-"`
	FeedbackType   Verdict `json:"feedback_type"`
	FeedbackReason string  `json:"feedback_reason"`
	SuggestMessage string  `json:"suggest_message"`
}
