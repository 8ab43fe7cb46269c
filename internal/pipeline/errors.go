package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline engine. The first two are contract
// violations (a caller bug) and are surfaced loudly; the rest are runtime
// conditions the operator can recover from.
var (
	// ErrInvalidTransition means an illegal exec-state change was attempted,
	// e.g. running a phase whose configuration is missing, or starting a
	// second phase while one is already running.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrUnknownPhase means a phase key could not be mapped to a server-side
	// identifier. Rejected before any network effect.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrAlreadyTransitioning means a start/stop command is already in
	// flight for the campaign. Retry once it resolves.
	ErrAlreadyTransitioning = errors.New("campaign transition already in flight")

	// ErrStreamDisconnected marks a lost event subscription. Non-fatal:
	// accumulated state is kept, merely stale until reconnection.
	ErrStreamDisconnected = errors.New("event stream disconnected")
)

// NetworkError wraps a failed command or fetch call. The prior state is
// left intact so the operation can simply be retried.
type NetworkError struct {
	Op  string // what was being attempted, e.g. "start dns-validation"
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
