package domain

import (
	"errors"
	"fmt"
)

type CheckoutState string

const (
	CheckoutIdle       CheckoutState = "IDLE"
	CheckoutConfirming CheckoutState = "CONFIRMING"
	CheckoutWriting    CheckoutState = "WRITING"
	CheckoutCommitted  CheckoutState = "COMMITTED"
	CheckoutFailed     CheckoutState = "FAILED"
)

var ErrIllegalTransition = errors.New("illegal transition of checkout state")

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutIdle:       {CheckoutConfirming},
	CheckoutConfirming: {CheckoutWriting, CheckoutIdle},
	CheckoutWriting:    {CheckoutCommitted, CheckoutFailed},
	CheckoutFailed:     {CheckoutIdle},
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutCommitted || s == CheckoutFailed
}

func (s CheckoutState) String() string {
	return string(s)
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckoutAttempt tracks one Idle -> Confirming -> Writing -> {Committed, Failed} run.
type CheckoutAttempt struct {
	state   CheckoutState
	history []CheckoutState
}

func NewCheckoutAttempt() *CheckoutAttempt {
	return &CheckoutAttempt{state: CheckoutIdle, history: []CheckoutState{CheckoutIdle}}
}

func (a *CheckoutAttempt) State() CheckoutState {
	return a.state
}

func (a *CheckoutAttempt) History() []CheckoutState {
	out := make([]CheckoutState, len(a.history))
	copy(out, a.history)
	return out
}

func (a *CheckoutAttempt) TransitionTo(to CheckoutState) error {
	if !CanTransitionTo(a.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.state, to)
	}
	a.state = to
	a.history = append(a.history, to)
	return nil
}

type CheckoutPreview struct {
	UserID     string        `json:"user_id"`
	Lines      []CartLine    `json:"lines"`
	TotalPrice int64         `json:"total_price"`
	State      CheckoutState `json:"state"`
}

type CheckoutResult struct {
	Order    *Order        `json:"order"`
	State    CheckoutState `json:"state"`
	Replayed bool          `json:"replayed"`
}
