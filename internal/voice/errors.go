package voice

import (
	"errors"
	"fmt"

	"github.com/live-interpreter/internal/capture"
	"github.com/live-interpreter/internal/transport"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	// ErrInvalidInput marks a malformed audio block or client message. It is
	// fatal to that input only.
	ErrInvalidInput = capture.ErrInvalidInput
	// ErrRemoteCall marks a recognize/translate/synthesize failure or timeout.
	ErrRemoteCall = errors.New("remote call failed")
	// ErrTransport marks a connection-level fault.
	ErrTransport = transport.ErrTransport
	// ErrIllegalTransition is returned when the orchestrator is asked to move
	// between states the state machine does not connect.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// RemoteCallError carries the pipeline stage that failed.
type RemoteCallError struct {
	Stage string
	Err   error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrRemoteCall, e.Stage, e.Err)
}

func (e *RemoteCallError) Unwrap() []error { return []error{ErrRemoteCall, e.Err} }
