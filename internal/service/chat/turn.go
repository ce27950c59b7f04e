package chat

import (
	"strings"
	"time"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

// Turn accumulates the streamed answer of the single in-flight turn.
// It is not safe for concurrent use; the controller serializes access.
type Turn struct {
	active    bool
	startedAt time.Time
	content   strings.Builder
	trace     strings.Builder
}

// Start moves the turn from Idle to Active with empty buffers.
func (t *Turn) Start(now time.Time) error {
	if t.active {
		return ErrTurnInProgress
	}
	t.content.Reset()
	t.trace.Reset()
	t.active = true
	t.startedAt = now
	return nil
}

// Apply folds one event into the turn. When the event completes the turn
// the finalized message is returned with done set, and the turn is Idle
// again. Events observed while Idle change nothing.
func (t *Turn) Apply(ev chat.Event) (msg chat.Message, done bool) {
	if !t.active {
		return chat.Message{}, false
	}

	switch ev.Kind {
	case chat.EventChunk:
		t.content.WriteString(ev.ChunkContent())
	case chat.EventContext:
		t.content.WriteString(RenderFigures(ev.Figures()))
	case chat.EventMonitor:
		t.trace.WriteString(ev.MonitorText())
	case chat.EventEnd:
		msg = chat.Message{
			ID:      ev.MessageID,
			Role:    chat.RoleAI,
			Content: t.content.String(),
			Trace:   t.trace.String(),
		}
		t.Reset()
		return msg, true
	}
	return chat.Message{}, false
}

// Reset discards all in-flight state.
func (t *Turn) Reset() {
	t.active = false
	t.startedAt = time.Time{}
	t.content.Reset()
	t.trace.Reset()
}

// Active reports whether a turn is in flight.
func (t *Turn) Active() bool { return t.active }

// StartedAt is the submission time of the in-flight turn.
func (t *Turn) StartedAt() time.Time { return t.startedAt }

// Content is the answer accumulated so far.
func (t *Turn) Content() string { return t.content.String() }

// Trace is the monitoring text accumulated so far.
func (t *Turn) Trace() string { return t.trace.String() }
