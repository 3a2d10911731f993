package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transport event")
		return nil
	}
}

func TestSubscribeEmitsChannelAdded(t *testing.T) {
	m := NewMemory("alice")
	events := m.Events()

	ch := Channel{Sid: "S1", Attributes: Attributes{
		Type: TypeSingle, Initiator: "bob", Members: []string{"alice", "bob"},
	}}
	m.Subscribe(ch)

	added, ok := waitEvent(t, events).(ChannelAdded)
	if !ok || added.Channel.Sid != "S1" {
		t.Fatalf("event = %+v, want ChannelAdded for S1", added)
	}

	roster, err := m.ListSubscribedChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 {
		t.Errorf("roster = %d, want 1", len(roster))
	}
}

func TestInjectEmitsMessageAdded(t *testing.T) {
	m := NewMemory("alice")
	m.Subscribe(Channel{Sid: "S1", Attributes: Attributes{Type: TypeSingle, Members: []string{"alice", "bob"}}})
	events := m.Events()
	waitEvent(t, events) // drain the subscribe

	if err := m.Inject("S1", InboundMessage{Author: "bob", Body: "payload"}); err != nil {
		t.Fatal(err)
	}
	added, ok := waitEvent(t, events).(MessageAdded)
	if !ok || added.Sid != "S1" || added.Message.Author != "bob" {
		t.Fatalf("event = %+v, want MessageAdded from bob on S1", added)
	}

	if err := m.Inject("nope", InboundMessage{Author: "bob", Body: "x"}); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("inject unknown error = %v, want ErrChannelNotFound", err)
	}
}

func TestFetchMessagesSinceReturnsTail(t *testing.T) {
	m := NewMemory("alice")
	m.Subscribe(Channel{Sid: "S1", Attributes: Attributes{Type: TypeSingle, Members: []string{"alice", "bob"}}})

	for _, body := range []string{"a", "b", "c", "d"} {
		if err := m.InjectQuiet("S1", InboundMessage{Author: "bob", Body: body}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.MessageCount(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}

	// The tail arrives in delivery order.
	msgs, err := m.FetchMessagesSince(context.Background(), "S1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Body != "c" || msgs[1].Body != "d" {
		t.Errorf("tail = %+v, want [c d]", msgs)
	}

	// Over-asking clamps to the full history.
	msgs, err = m.FetchMessagesSince(context.Background(), "S1", 99)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Errorf("clamped fetch = %d, want 4", len(msgs))
	}
}

func TestCreateAndLeave(t *testing.T) {
	m := NewMemory("alice")

	ch, err := m.CreateSingleChannel(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Attributes.Initiator != "alice" || ch.Attributes.Type != TypeSingle {
		t.Errorf("channel = %+v, want single initiated by alice", ch)
	}

	companion, err := ch.Companion("alice")
	if err != nil {
		t.Fatal(err)
	}
	if companion != "bob" {
		t.Errorf("companion = %q, want bob", companion)
	}

	if _, err := m.CreateSingleChannel(context.Background(), "alice"); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("self channel error = %v, want ErrInvalidChannel", err)
	}

	if err := m.Leave(context.Background(), ch.Sid); err != nil {
		t.Fatal(err)
	}
	roster, _ := m.ListSubscribedChannels(context.Background())
	if len(roster) != 0 {
		t.Errorf("roster = %d after leave, want 0", len(roster))
	}
	if err := m.Leave(context.Background(), ch.Sid); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("double leave error = %v, want ErrChannelNotFound", err)
	}
}

func TestSendAppendsHistory(t *testing.T) {
	m := NewMemory("alice")
	ch, err := m.CreateGroupChannel(context.Background(), "", "team", []string{"alice", "bob"})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Send(context.Background(), ch.Sid, "body", KindRegular); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(context.Background(), ch.Sid, "", KindRegular); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("empty send error = %v, want ErrInvalidMessage", err)
	}

	msgs, err := m.FetchMessagesSince(context.Background(), ch.Sid, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Author != "alice" {
		t.Errorf("history = %+v, want one entry authored by alice", msgs)
	}
}

func TestConnectionStateChanges(t *testing.T) {
	m := NewMemory("alice")
	events := m.Events()

	m.SetConnectionState(StateConnected)
	evt, ok := waitEvent(t, events).(ConnectionStateChanged)
	if !ok || evt.State != StateConnected {
		t.Fatalf("event = %+v, want connected state change", evt)
	}
}
