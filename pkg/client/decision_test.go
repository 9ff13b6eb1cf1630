package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDecisionFirstSettleWins(t *testing.T) {
	d := newDecision()
	assert.Equal(t, Undecided, d.Outcome())

	assert.True(t, d.Settle(DecisionAccepted))
	assert.False(t, d.Settle(DecisionTimedOut))
	assert.False(t, d.Settle(DecisionRejected))
	assert.Equal(t, DecisionAccepted, d.Outcome())

	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after settle")
	}
}

func TestDecisionIgnoresUndecided(t *testing.T) {
	d := newDecision()
	assert.False(t, d.Settle(Undecided))

	select {
	case <-d.Done():
		t.Fatal("Done closed without a settled outcome")
	default:
	}
}

func TestDecisionConcurrentSettle(t *testing.T) {
	d := newDecision()
	outcomes := []Outcome{DecisionAccepted, DecisionRejected, DecisionTimedOut}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []Outcome
	for i := 0; i < 30; i++ {
		o := outcomes[i%len(outcomes)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Settle(o) {
				mu.Lock()
				winners = append(winners, o)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if assert.Len(t, winners, 1) {
		assert.Equal(t, winners[0], d.Outcome())
	}
}

func TestDecisionSettleSequence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempts := rapid.SliceOf(rapid.SampledFrom([]Outcome{
			Undecided, DecisionAccepted, DecisionRejected, DecisionTimedOut,
		})).Draw(t, "attempts")

		d := newDecision()
		want := Undecided
		for _, o := range attempts {
			won := d.Settle(o)
			if want == Undecided && o != Undecided {
				if !won {
					t.Fatalf("first real outcome %v was not recorded", o)
				}
				want = o
			} else if won {
				t.Fatalf("late outcome %v overwrote %v", o, want)
			}
		}

		if got := d.Outcome(); got != want {
			t.Fatalf("outcome = %v, want %v", got, want)
		}
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "undecided", Undecided.String())
	assert.Equal(t, "accepted", DecisionAccepted.String())
	assert.Equal(t, "rejected", DecisionRejected.String())
	assert.Equal(t, "timed out", DecisionTimedOut.String())
}
