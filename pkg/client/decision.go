package client

import "sync"

// Outcome is the settled value of a chat request decision
type Outcome int

const (
	Undecided Outcome = iota
	DecisionAccepted
	DecisionRejected
	DecisionTimedOut
)

func (o Outcome) String() string {
	switch o {
	case Undecided:
		return "undecided"
	case DecisionAccepted:
		return "accepted"
	case DecisionRejected:
		return "rejected"
	case DecisionTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Decision is a settle-once cell shared by the application's answer and the
// timeout watcher. Whichever settles first wins; later attempts are no-ops.
type Decision struct {
	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
}

func newDecision() *Decision {
	return &Decision{done: make(chan struct{})}
}

// Settle records o if nothing was recorded yet and reports whether it did
func (d *Decision) Settle(o Outcome) bool {
	if o == Undecided {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outcome != Undecided {
		return false
	}
	d.outcome = o
	close(d.done)
	return true
}

// Outcome returns the settled value, or Undecided
func (d *Decision) Outcome() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome
}

// Done is closed once the decision settles
func (d *Decision) Done() <-chan struct{} {
	return d.done
}
