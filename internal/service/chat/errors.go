package chat

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
)

var (
	ErrTurnInProgress  = errors.New("turn in progress")
	ErrEmptyQuery      = errors.New("query is empty")
	ErrNotConnected    = errors.New("connection is not open")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrValidation      = errors.New("invalid turn configuration")
	ErrIndexOutOfRange = errors.New("message index out of range")
	ErrNotRateable     = errors.New("message cannot be rated")
	ErrInvalidVerdict  = errors.New("invalid feedback verdict")
	ErrReauthenticate  = errors.New("credential rejected, login required")
	ErrNoActiveSession = errors.New("no active session")
	ErrTurnTimedOut    = errors.New("turn timed out")
	ErrHistoryLoad     = errors.New("session history unavailable")
	ErrHistoryLoading  = errors.New("session history is still loading")
)

// Validation error codes, one per rule that names a settings field.
const (
	CodeRequireQuery       = "validation.requireQuery"
	CodeRequireModel       = "validation.requireModel"
	CodeRequireTemperature = "validation.requireTemperature"
	CodeRequireMaxTokens   = "validation.requireMaxTokens"
	CodeMaxTokensRange     = "validation.maxTokensRange"
	CodeTemperatureRange   = "validation.temperatureRange"
	CodeRequireEndpoint    = "validation.requireEndPoint"
	CodeInvalidJSON        = "validation.invalidJson"
)

// ValidationError reports the single settings field that blocked a turn.
type ValidationError struct {
	Field settings.Field
	Code  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
