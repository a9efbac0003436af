package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/Gokhulnath/Manus/internal/models"
)

var (
	// ErrTurnStalled matches every *StalledError.
	ErrTurnStalled = errors.New("turn: stalled")
	// ErrTurnFailed matches every *FailedError.
	ErrTurnFailed = errors.New("turn: failed")
	// ErrTurnInFlight is returned by Start while another turn is active.
	ErrTurnInFlight = errors.New("turn: a turn is already in flight")
	// ErrCancelled is the outcome of a turn whose chat was switched away or
	// that was cancelled explicitly.
	ErrCancelled = errors.New("turn: cancelled")
	// ErrNoChat is returned by Start before any chat is selected.
	ErrNoChat = errors.New("turn: no active chat")
)

// Stall reasons.
const (
	StallTransport = "transport"
	StallTimeout   = "timeout"
)

// StalledError reports a turn that ran out of its retry or time budget
// without reaching a summary.
type StalledError struct {
	ChatID        string
	UserMessageID string
	Reason        string // StallTransport or StallTimeout
	Attempts      int    // consecutive failed fetches
	Elapsed       time.Duration
	Err           error // last transport error, if any
}

func (e *StalledError) Error() string {
	switch e.Reason {
	case StallTransport:
		return fmt.Sprintf("turn: stalled in chat %s: %d consecutive fetch failures: %v", e.ChatID, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("turn: stalled in chat %s: no summary after %s", e.ChatID, e.Elapsed.Round(time.Millisecond))
	}
}

func (e *StalledError) Is(target error) bool { return target == ErrTurnStalled }

func (e *StalledError) Unwrap() error { return e.Err }

// FailedError reports a turn whose summarize task finished as failed.
type FailedError struct {
	ChatID  string
	Message models.Message
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("turn: summarize failed in chat %s (message %s)", e.ChatID, e.Message.ID)
}

func (e *FailedError) Is(target error) bool { return target == ErrTurnFailed }
