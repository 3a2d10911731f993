// Package outbox drains queued outgoing messages: encode, encrypt for
// the channel, wrap in a versioned envelope, and hand to the transport.
// Failures surface as a per-message failed status, never as exceptions
// to the caller.
package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/codec"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/store"
	"go.uber.org/zap"
)

// Sender polls the outbox on its own serial loop and pushes entries
// through encrypt-and-send.
type Sender struct {
	db        *store.DB
	transport remote.Transport
	sessions  *crypto.Manager
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, transport remote.Transport, sessions *crypto.Manager, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{db: db, transport: transport, sessions: sessions, bus: b, logger: logger}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains every queued outbox entry once. Exported so tests
// and the daemon can flush without waiting on the poll interval.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", entry.ClientID))
			continue
		}

		if err := s.send(ctx, entry); err != nil {
			s.logger.Error("failed to send message",
				zap.Error(err), zap.String("client_id", entry.ClientID), zap.String("sid", entry.ChannelSid))
			_ = s.db.MarkOutboxFailed(entry.ClientID, err.Error())
			_ = s.db.UpdateMessageStatus(entry.MessageID, store.StatusFailed)
			s.bus.Emit(bus.KindMessageSendFailed, bus.SendFailed{
				ClientID: entry.ClientID,
				Sid:      entry.ChannelSid,
				Err:      err.Error(),
			})
			continue
		}

		_ = s.db.MarkOutboxSent(entry.ClientID)
		_ = s.db.UpdateMessageStatus(entry.MessageID, store.StatusSuccess)
		s.logger.Info("message sent",
			zap.String("client_id", entry.ClientID), zap.String("sid", entry.ChannelSid))
		s.bus.Emit(bus.KindChatListUpdated, nil)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) error {
	ch, err := s.db.GetChannel(entry.ChannelSid)
	if err != nil {
		return err
	}

	// A group channel without an attached session fails here with
	// ErrSessionMissing; the entry goes to failed and the caller must
	// reconcile before retrying.
	ciphertext, err := s.sessions.Encrypt([]byte(entry.Content), ch)
	if err != nil {
		return err
	}

	body, err := codec.NewEnvelope(ciphertext, nil).Export()
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, entry.ChannelSid, body, remote.KindRegular)
}
