package chats

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/codec"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/processor"
	"github.com/matheus3301/sigil/internal/reconcile"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/store"
)

type fixture struct {
	db        *store.DB
	dir       *directory.Memory
	sessions  *crypto.Manager
	transport *remote.Memory
	bus       *bus.Bus
	mgr       *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()

	db, err := store.Open(filepath.Join(tmp, "sigil.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureAccount("alice"); err != nil {
		t.Fatal(err)
	}

	selfCipher, err := crypto.NewBoxCipher()
	if err != nil {
		t.Fatal(err)
	}
	dir := directory.NewMemory()
	dir.Register(directory.Card{Identity: "alice", PublicKey: selfCipher.PublicKey()})
	for _, peer := range []string{"bob", "carol"} {
		c, err := crypto.NewBoxCipher()
		if err != nil {
			t.Fatal(err)
		}
		dir.Register(directory.Card{Identity: peer, PublicKey: c.PublicKey()})
	}

	sessions := crypto.NewManager("alice", selfCipher, crypto.NewFileGroupStore(tmp))
	transport := remote.NewMemory("alice")
	b := bus.New()
	proc := processor.New(db, dir, sessions, b, nil)
	rec := reconcile.New(db, transport, dir, sessions, proc, b, nil)

	return &fixture{
		db:        db,
		dir:       dir,
		sessions:  sessions,
		transport: transport,
		bus:       b,
		mgr:       New(db, transport, dir, sessions, rec, b, nil),
	}
}

func TestStartSingle(t *testing.T) {
	f := newFixture(t)

	ch, err := f.mgr.StartSingle(context.Background(), "Bob ")
	if err != nil {
		t.Fatalf("StartSingle() error = %v", err)
	}
	if ch.Name != "bob" || ch.Type != store.ChannelSingle || ch.Initiator != "alice" {
		t.Errorf("channel = %+v, want single bob initiated by alice", ch)
	}

	// The remote roster now carries the channel too.
	roster, err := f.transport.ListSubscribedChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0].Sid != ch.Sid {
		t.Errorf("roster = %+v, want one entry for %s", roster, ch.Sid)
	}
}

func TestStartSingleGuards(t *testing.T) {
	f := newFixture(t)

	if _, err := f.mgr.StartSingle(context.Background(), "alice"); !errors.Is(err, ErrSelfChat) {
		t.Errorf("self chat error = %v, want ErrSelfChat", err)
	}
	if _, err := f.mgr.StartSingle(context.Background(), "mallory"); !errors.Is(err, directory.ErrCardNotFound) {
		t.Errorf("unknown identity error = %v, want ErrCardNotFound", err)
	}

	if _, err := f.mgr.StartSingle(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.StartSingle(context.Background(), "bob"); !errors.Is(err, ErrChannelExists) {
		t.Errorf("duplicate error = %v, want ErrChannelExists", err)
	}
}

func TestStartGroup(t *testing.T) {
	f := newFixture(t)

	// Duplicates and self are dropped from the member list.
	ch, err := f.mgr.StartGroup(context.Background(), "Team ", []string{"bob", "bob", "alice", "carol"})
	if err != nil {
		t.Fatalf("StartGroup() error = %v", err)
	}
	if ch.Type != store.ChannelGroup || ch.Name != "team" {
		t.Errorf("channel = %+v, want group named team", ch)
	}
	if len(ch.Cards) != 2 {
		t.Errorf("cards = %d, want 2", len(ch.Cards))
	}

	session := f.sessions.GetGroup(ch.Sid)
	if session == nil {
		t.Fatal("no group session attached for initiator")
	}
	if session.Initiator() != "alice" {
		t.Errorf("initiator = %q, want alice", session.Initiator())
	}
}

func TestStartGroupNoMembers(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.StartGroup(context.Background(), "solo", []string{"alice"}); !errors.Is(err, ErrNoMembers) {
		t.Errorf("error = %v, want ErrNoMembers", err)
	}
}

func TestJoinMaterializesOfferedChannel(t *testing.T) {
	f := newFixture(t)

	rc := remote.Channel{
		Sid: "S1",
		Attributes: remote.Attributes{
			Type:      remote.TypeSingle,
			Initiator: "bob",
			Members:   []string{"alice", "bob"},
		},
	}
	f.transport.Subscribe(rc)

	if err := f.mgr.Join(context.Background(), rc); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := f.db.GetChannel("S1"); err != nil {
		t.Errorf("channel not materialized: %v", err)
	}
}

func TestJoinSkipsOwnChannels(t *testing.T) {
	f := newFixture(t)

	rc := remote.Channel{
		Sid: "S1",
		Attributes: remote.Attributes{
			Type:      remote.TypeSingle,
			Initiator: "alice",
			Members:   []string{"alice", "bob"},
		},
	}
	if err := f.mgr.Join(context.Background(), rc); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := f.db.GetChannel("S1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("own channel echo should not materialize via join")
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	ch, err := f.mgr.StartGroup(context.Background(), "team", []string{"bob"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.Select(ch.Sid); err != nil {
		t.Fatal(err)
	}

	events, cancel := f.bus.Subscribe("chat.", 16)
	defer cancel()

	if err := f.mgr.Delete(context.Background(), ch.Sid); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := f.db.GetChannel(ch.Sid); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetChannel() error = %v, want ErrNotFound", err)
	}
	if f.sessions.GetGroup(ch.Sid) != nil {
		t.Error("group session survived delete")
	}
	if f.db.CurrentChannelSid() != "" {
		t.Error("cursor still points at deleted channel")
	}

	roster, _ := f.transport.ListSubscribedChannels(context.Background())
	if len(roster) != 0 {
		t.Errorf("roster = %+v, want empty after leave", roster)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Kind == bus.KindChannelDeleted {
				return
			}
		case <-deadline:
			t.Fatal("no channel deleted event")
		}
	}
}

func TestSendQueuesOutbox(t *testing.T) {
	f := newFixture(t)

	ch, err := f.mgr.StartSingle(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}

	msg, err := f.mgr.Send(context.Background(), ch.Sid, codec.NewText("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Status != store.StatusSending || msg.Direction != store.Outgoing {
		t.Errorf("message = %+v, want outgoing sending", msg)
	}
	if msg.ID == 0 {
		t.Error("message ID not assigned")
	}

	pending, err := f.db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].ChannelSid != ch.Sid || pending[0].MessageID != msg.ID {
		t.Errorf("entry = %+v, want linked to message %d", pending[0], msg.ID)
	}
}

func TestSendUnknownChannel(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Send(context.Background(), "nope", codec.NewText("x")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSelectResetsUnread(t *testing.T) {
	f := newFixture(t)

	ch, err := f.mgr.StartSingle(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := f.db.IncrementUnread(ch.Sid); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.mgr.Select(ch.Sid); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if f.db.CurrentChannelSid() != ch.Sid {
		t.Error("cursor not moved")
	}
	got, _ := f.db.GetChannel(ch.Sid)
	if got.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after select", got.UnreadCount)
	}

	// Clearing the cursor backgrounds everything.
	if err := f.mgr.Select(""); err != nil {
		t.Fatal(err)
	}
	if f.db.CurrentChannelSid() != "" {
		t.Error("cursor not cleared")
	}
}
