package stt

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when the backend accepted the audio but did not
	// answer within the response timeout.
	ErrTimeout = errors.New("stt: timed out waiting for transcript")

	// ErrNoResult is returned when the backend closed the connection without
	// sending a transcript.
	ErrNoResult = errors.New("stt: connection closed without transcript")
)

// Status is a coarse outcome of a Transcribe call, used as a metric label and
// in log lines.
type Status string

const (
	StatusOK        Status = "ok"
	StatusEmpty     Status = "empty"
	StatusTimeout   Status = "timeout"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Classify maps the result of a Transcribe call to a [Status].
func Classify(text string, err error) Status {
	switch {
	case err == nil && text != "":
		return StatusOK
	case err == nil:
		return StatusEmpty
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrNoResult):
		return StatusClosed
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusError
	}
}
