package executor

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/protocol"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("target not found")
	ErrUnsupported    = errors.New("unsupported operation for this target")
)

// Kind is the retry class of an execution error.
type Kind int

const (
	KindNone Kind = iota
	KindSoft
	KindHard
)

func (k Kind) String() string {
	switch k {
	case KindSoft:
		return "soft"
	case KindHard:
		return "hard"
	default:
		return "none"
	}
}

// SoftError marks a transient failure; the command may be retried.
type SoftError struct{ Err error }

func (e *SoftError) Error() string { return e.Err.Error() }
func (e *SoftError) Unwrap() error { return e.Err }

// HardError marks a permanent failure; the command goes to the error queue.
type HardError struct{ Err error }

func (e *HardError) Error() string { return e.Err.Error() }
func (e *HardError) Unwrap() error { return e.Err }

// Soft wraps err as a SoftError. Soft(nil) is nil.
func Soft(err error) error {
	if err == nil {
		return nil
	}
	return &SoftError{Err: err}
}

// Hard wraps err as a HardError. Hard(nil) is nil.
func Hard(err error) error {
	if err == nil {
		return nil
	}
	return &HardError{Err: err}
}

// Classify decides whether err is worth retrying. Explicit wrappers win,
// then known permanent causes. Anything else is soft: network errors,
// deadlines, I/O failures and errors nobody recognised.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var hard *HardError
	if errors.As(err, &hard) {
		return KindHard
	}
	var soft *SoftError
	if errors.As(err, &soft) {
		return KindSoft
	}

	var verr *command.ValidationError
	switch {
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnsupported),
		errors.As(err, &verr):
		return KindHard
	}

	return KindSoft
}

// Outcome maps an execution error onto the command outcome.
func Outcome(err error) command.Outcome {
	switch Classify(err) {
	case KindNone:
		return command.Succeeded
	case KindHard:
		return command.HardFailed
	default:
		return command.SoftFailed
	}
}

// ResponseError converts a connector response into an execution error.
// A response with retry=false is always hard.
func ResponseError(resp *protocol.Response) error {
	if resp == nil {
		return Soft(errors.New("connector returned no response"))
	}
	if resp.Status != "error" {
		return nil
	}

	msg := resp.Error
	var err error
	switch resp.ErrorKind {
	case protocol.KindAuth:
		err = Hard(fmt.Errorf("%w: %s", ErrAuthentication, msg))
	case protocol.KindNotFound:
		err = Hard(fmt.Errorf("%w: %s", ErrNotFound, msg))
	case protocol.KindUnsupported:
		err = Hard(fmt.Errorf("%w: %s", ErrUnsupported, msg))
	case protocol.KindNetwork, protocol.KindTimeout, protocol.KindIO,
		protocol.KindServer, protocol.KindRateLimited:
		err = Soft(fmt.Errorf("%s error: %s", resp.ErrorKind, msg))
	default:
		err = Soft(errors.New(msg))
	}
	if !resp.ShouldRetry() {
		return Hard(err)
	}
	return err
}
