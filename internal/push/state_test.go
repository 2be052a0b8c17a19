package push

import (
	"testing"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
)

func TestValidTransitionPath(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Closed {
		t.Fatalf("initial state = %s, want CLOSED", m.Current())
	}

	path := []State{Connecting, Open, Closed, Connecting, Closed, Stopped}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) from %s error = %v", s, m.Current(), err)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Open); err == nil {
		t.Error("CLOSED -> OPEN allowed, want error")
	}
	_ = m.Transition(Stopped)
	if err := m.Transition(Connecting); err == nil {
		t.Error("STOPPED -> CONNECTING allowed, want terminal state")
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StateChange)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		if change.From != Closed || change.To != Connecting {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestBackoffMonotonicCapped(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	b := newBackoff(base, max)
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		seen = append(seen, b.current())
		b.advance()
	}

	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("delay decreased: %v after %v", seen[i], seen[i-1])
		}
		if seen[i] > max {
			t.Errorf("delay %v exceeds cap %v", seen[i], max)
		}
	}
	if seen[len(seen)-1] != max {
		t.Errorf("final delay = %v, want capped at %v", seen[len(seen)-1], max)
	}
}

func TestBackoffResetsAfterSuccessfulOpen(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	b := newBackoff(base, max)
	for i := 0; i < 5; i++ {
		b.advance()
	}
	if b.current() != max {
		t.Fatalf("delay = %v, want grown to cap %v", b.current(), max)
	}

	// The connect loop resets on every successful open; the next
	// failure must retry at the base delay, not the grown one.
	b.reset()
	if b.current() != base {
		t.Errorf("delay after reset = %v, want base %v", b.current(), base)
	}
	b.advance()
	if b.current() != 2*base {
		t.Errorf("delay after reset then one failure = %v, want %v", b.current(), 2*base)
	}
}
