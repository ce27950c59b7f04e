package chat

import (
	"encoding/json"
	"strings"
)

// EventKind is the discriminant of a frame pushed by the server.
type EventKind string

const (
	EventStart   EventKind = "START"
	EventChunk   EventKind = "CHUNK"
	EventContext EventKind = "CONTEXT"
	EventEnd     EventKind = "END"
	EventMonitor EventKind = "MONITOR"
)

// Known reports whether k is one of the five recognised kinds.
func (k EventKind) Known() bool {
	switch k {
	case EventStart, EventChunk, EventContext, EventEnd, EventMonitor:
		return true
	}
	return false
}

// Event is a decoded inbound frame. The shape of Message depends on Kind:
// an object with a content field for CHUNK, a plain string for MONITOR.
type Event struct {
	Kind                EventKind         `json:"message_type"`
	MessageID           string            `json:"message_id,omitempty"`
	Message             json.RawMessage   `json:"message,omitempty"`
	DDBAdditionalKwargs *AdditionalKwargs `json:"ddb_additional_kwargs,omitempty"`
}

type chunkBody struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChunkContent extracts the text fragment of a CHUNK event.
func (e Event) ChunkContent() string {
	if len(e.Message) == 0 {
		return ""
	}
	var body chunkBody
	if err := json.Unmarshal(e.Message, &body); err != nil {
		return ""
	}
	return body.Content
}

// MonitorText extracts the trace fragment of a MONITOR event.
func (e Event) MonitorText() string {
	if len(e.Message) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(e.Message, &text); err != nil {
		// Some producers wrap the trace like a chunk; accept both.
		return strings.TrimSpace(e.ChunkContent())
	}
	return text
}

// Figures returns the attachments carried by a CONTEXT event.
func (e Event) Figures() []Figure {
	if e.DDBAdditionalKwargs == nil {
		return nil
	}
	return e.DDBAdditionalKwargs.Figure
}

// NewChunkEvent builds a CHUNK event carrying content.
func NewChunkEvent(content string) Event {
	raw, _ := json.Marshal(chunkBody{Role: "assistant", Content: content})
	return Event{Kind: EventChunk, Message: raw}
}

// NewMonitorEvent builds a MONITOR event carrying trace text.
func NewMonitorEvent(trace string) Event {
	raw, _ := json.Marshal(trace)
	return Event{Kind: EventMonitor, Message: raw}
}

// NewContextEvent builds a CONTEXT event carrying figures.
func NewContextEvent(figures []Figure) Event {
	return Event{Kind: EventContext, DDBAdditionalKwargs: &AdditionalKwargs{Figure: figures}}
}
