// Package booking implements the reservation form: slot and time selection,
// validation and a single reservation call per submission.
package booking

// State is the state of one submission attempt.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// FSM holds the allowed form transitions.
type FSM struct {
	transitions map[State][]State
}

func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:       {StateSubmitting},
			StateSubmitting: {StateSuccess, StateFailed},
			StateSuccess:    {StateIdle, StateSubmitting},
			StateFailed:     {StateIdle, StateSubmitting},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
