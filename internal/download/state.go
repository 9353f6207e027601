package download

import (
	"fmt"
)

// State is a stage of the per-item pipeline.
type State string

const (
	StatePending      State = "pending"
	StatePathResolved State = "path_resolved"
	StateDownloading  State = "downloading"
	StateAssembling   State = "assembling"
	StateDecrypting   State = "decrypting"
	StateTagging      State = "tagging"
	StateRemuxing     State = "remuxing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StatePending:      {StatePathResolved},
	StatePathResolved: {StateDownloading, StateAssembling, StateDone},
	StateDownloading:  {StateDecrypting, StateTagging, StateDone},
	StateAssembling:   {StateTagging, StateDone},
	StateDecrypting:   {StateTagging},
	StateTagging:      {StateRemuxing, StateDone},
	StateRemuxing:     {StateDone},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ItemState tracks one item through the pipeline and rejects illegal moves.
type ItemState struct {
	current State
	reason  string
	history []State
}

// NewItemState returns a state machine positioned at Pending.
func NewItemState() *ItemState {
	return &ItemState{current: StatePending, history: []State{StatePending}}
}

// Current returns the current state.
func (s *ItemState) Current() State {
	return s.current
}

// Reason returns the failure reason once the item has failed.
func (s *ItemState) Reason() string {
	return s.reason
}

// History returns every state visited, in order.
func (s *ItemState) History() []State {
	return append([]State(nil), s.history...)
}

// Transition moves to next or returns an error if the move is illegal.
func (s *ItemState) Transition(next State) error {
	if next == StateFailed {
		return fmt.Errorf("use Fail to enter %s", StateFailed)
	}
	for _, allowed := range transitions[s.current] {
		if allowed == next {
			s.current = next
			s.history = append(s.history, next)
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", s.current, next)
}

// Fail moves to Failed from any non-terminal state.
func (s *ItemState) Fail(reason string) error {
	if s.current.Terminal() {
		return fmt.Errorf("illegal transition %s -> %s", s.current, StateFailed)
	}
	s.current = StateFailed
	s.reason = reason
	s.history = append(s.history, StateFailed)
	return nil
}
