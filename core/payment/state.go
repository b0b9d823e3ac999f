package payment

// State of a checkout attempt.
type State string

const (
	StateIdle             State = "Idle"
	StateSessionRequested State = "SessionRequested"
	StateAwaitingCheckout State = "AwaitingCheckout"
	StateCompleting       State = "Completing"
	StateVerified         State = "Verified"
	StateFailed           State = "Failed"
	StateCancelled        State = "Cancelled"
	StatePending          State = "Pending"
)

var transitions = map[State][]State{
	StateIdle:             {StateSessionRequested, StatePending},
	StateSessionRequested: {StateAwaitingCheckout, StateFailed},
	StateAwaitingCheckout: {StateCompleting, StateFailed, StateCancelled},
	StateCompleting:       {StateVerified, StateFailed, StateCancelled},
}

// CanTransition reports whether an attempt may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	switch s {
	case StateVerified, StateFailed, StateCancelled, StatePending:
		return true
	}
	return false
}

// Method is how the student pays.
type Method string

const (
	MethodCard   Method = "card"
	MethodManual Method = "manual" // CliQ bank transfer, reconciled by an operator
)

func (m Method) IsValid() bool { return m == MethodCard || m == MethodManual }

// Mode is how the hosted checkout is shown.
type Mode string

const (
	ModeEmbedded Mode = "embedded"
	ModeRedirect Mode = "redirect"
)

func (m Mode) IsValid() bool { return m == ModeEmbedded || m == ModeRedirect }
