package status

import (
	"testing"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/remote"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Offline},
		{Booting, Connecting},
		{Booting, Error},
		{Offline, Connecting},
		{Connecting, Syncing},
		{Syncing, Ready},
		{Ready, Reconnecting},
		{Reconnecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStateChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Connecting {
		t.Errorf("change = %v -> %v, want BOOTING -> CONNECTING", change.From, change.To)
	}
}

func TestApplyMapsTransportStates(t *testing.T) {
	m := NewMachine(nil)
	m.Apply(remote.StateConnecting)
	if m.Current() != Connecting {
		t.Fatalf("state = %s, want CONNECTING", m.Current())
	}
	m.Apply(remote.StateConnected)
	if m.Current() != Syncing {
		t.Fatalf("state = %s, want SYNCING", m.Current())
	}
	m.Apply(remote.StateDisconnected)
	if m.Current() != Reconnecting {
		t.Fatalf("state = %s, want RECONNECTING", m.Current())
	}
	// Repeated transport states during reconnect storms are tolerated.
	m.Apply(remote.StateDisconnected)
	if m.Current() != Reconnecting {
		t.Fatalf("state = %s, want RECONNECTING after repeat", m.Current())
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Offline:      {Offline},
		Connecting:   {Connecting},
		Syncing:      {Connecting, Syncing},
		Ready:        {Connecting, Syncing, Ready},
		Reconnecting: {Connecting, Syncing, Reconnecting},
		Denied:       {Connecting, Denied},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walk to %s: %v", target, err)
		}
	}
}
