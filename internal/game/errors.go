package game

import (
	"errors"
	"fmt"
)

// RejectCode classifies why a play intent was refused.
type RejectCode string

const (
	RejectInvalidMove   RejectCode = "INVALID_MOVE"
	RejectNotYourTurn   RejectCode = "NOT_YOUR_TURN"
	RejectAlreadyPlayed RejectCode = "ALREADY_PLAYED"
	RejectGameOver      RejectCode = "GAME_OVER"
	RejectNotFound      RejectCode = "NOT_FOUND"
)

// ValidationError reports a rejected intent. It is recoverable: session state
// is unchanged and only the acting player should see it.
type ValidationError struct {
	Code    RejectCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func rejectf(code RejectCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsValidation unwraps err into a ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var (
	// ErrSessionExists is returned when a room already has a live session.
	ErrSessionExists = errors.New("session already exists for room")
	// ErrSessionNotFound is returned for lookups of unknown rooms.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotEnoughPlayers is returned when a match cannot start or restart.
	ErrNotEnoughPlayers = errors.New("not enough players")
	// ErrMatchInProgress is returned when a start is requested mid-match.
	ErrMatchInProgress = errors.New("match already in progress")
	// ErrSessionOver is returned for intents against a finished session.
	ErrSessionOver = errors.New("session is over")
)
