package dispatcher

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrSnapshot       = errors.New("snapshot failed")
	ErrShutdown       = errors.New("dispatcher stopped")
)

const maxFrameInError = 256

// DecodeError reports an inbound frame that could not be turned into an Event.
type DecodeError struct {
	Type  string
	Frame string
	Err   error
}

func newDecodeError(eventType string, frame []byte, err error) *DecodeError {
	f := string(frame)
	if len(f) > maxFrameInError {
		f = f[:maxFrameInError] + "..."
	}
	return &DecodeError{Type: eventType, Frame: f, Err: err}
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode frame: %v", e.Err)
	}
	return fmt.Sprintf("decode %s event: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
