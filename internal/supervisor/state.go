// Package supervisor owns the two shard processes of one server run: it
// launches them as a unit, pumps their output into the run log, waits for
// the readiness marker, and shuts both down on request.
package supervisor

// State represents the lifecycle of a session.
type State int

const (
	// StateCreated is the initial state before any shard is spawned.
	StateCreated State = iota

	// StateStarting indicates the shards are spawned and the supervisor is
	// waiting for the readiness marker.
	StateStarting

	// StateReady indicates a shard reported the readiness marker.
	StateReady

	// StateStopping indicates a terminate signal was sent to the shards.
	StateStopping

	// StateStopped indicates both shards exited and both pumps completed.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while shard processes may still be running.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateReady || s == StateStopping
}

// IsTerminal returns true once the session has fully shut down.
func (s State) IsTerminal() bool {
	return s == StateStopped
}
