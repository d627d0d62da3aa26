package connection

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the channel is not open.
var ErrNotConnected = errors.New("channel not connected")

// TransportError reports a channel failure. Op names the failing step
// (dial, read, send, heartbeat, server).
type TransportError struct {
	Op     string
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("channel %s: %s", e.Op, e.Reason)
	default:
		return "channel " + e.Op + " failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
