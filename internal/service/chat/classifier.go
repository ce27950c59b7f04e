package chat

import (
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

// Classify decodes one inbound frame. A frame that is not JSON is rejected
// with ErrMalformedFrame; an unknown discriminant decodes fine and is left
// for the caller to ignore.
func Classify(frame []byte) (chat.Event, error) {
	var ev chat.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return chat.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}
