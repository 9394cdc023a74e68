package domain

// CastPhase enumerates the variants of the session state machine.
type CastPhase string

const (
	PhaseIdle       CastPhase = "idle"
	PhaseConnecting CastPhase = "connecting"
	PhaseCasting    CastPhase = "casting"
	PhaseError      CastPhase = "error"
)

// CastState is the tagged union owned by the session manager. Device is set for
// the connecting and casting variants, StreamURL only for casting, Message only
// for error. Exactly one non-idle/non-error state may exist at a time.
type CastState struct {
	Phase     CastPhase
	Device    *Device
	StreamURL string
	Message   string
}

// Idle returns the zero state of the machine.
func Idle() CastState {
	return CastState{Phase: PhaseIdle}
}

// Connecting returns the state entered while a session is being negotiated.
func Connecting(device Device) CastState {
	return CastState{Phase: PhaseConnecting, Device: &device}
}

// Casting returns the state of an established session.
func Casting(device Device, streamURL string) CastState {
	return CastState{Phase: PhaseCasting, Device: &device, StreamURL: streamURL}
}

// Errored returns the terminal error state with a human-readable message.
func Errored(message string) CastState {
	return CastState{Phase: PhaseError, Message: message}
}
