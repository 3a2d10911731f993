// Package reconcile keeps the local channel set, the group crypto
// sessions and the remote channel roster in agreement. A reconcile pass
// is safe to repeat: with an unchanged roster it performs no new writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/kmutex"
	"github.com/matheus3301/sigil/internal/processor"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconciler aligns local persistent state and group sessions with the
// remote roster.
type Reconciler struct {
	db        *store.DB
	transport remote.Transport
	dir       directory.Directory
	sessions  *crypto.Manager
	proc      *processor.Processor
	bus       *bus.Bus
	logger    *zap.Logger
	locks     *kmutex.KMutex
}

// New creates a reconciler over the injected collaborators.
func New(db *store.DB, transport remote.Transport, dir directory.Directory,
	sessions *crypto.Manager, proc *processor.Processor, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:        db,
		transport: transport,
		dir:       dir,
		sessions:  sessions,
		proc:      proc,
		bus:       b,
		logger:    logger,
		locks:     kmutex.New(),
	}
}

// ReconcileAll brings the local channel set into agreement with the
// remote roster.
//
// Local group channels missing from the roster are deleted first, along
// with their crypto sessions. The remaining roster entries then reconcile
// concurrently, single channels strictly before group channels: a group
// roster references member identities whose cards get cached as a side
// effect of single-channel resolution. Every step runs to completion
// whether or not a sibling fails; the first error wins the aggregate.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	remoteChannels, err := r.transport.ListSubscribedChannels(ctx)
	if err != nil {
		return fmt.Errorf("list subscribed channels: %w", err)
	}

	remoteSids := make(map[string]bool, len(remoteChannels))
	for _, rc := range remoteChannels {
		remoteSids[rc.Sid] = true
	}

	if err := r.dropUnsubscribed(remoteSids); err != nil {
		return err
	}

	var singles, groups []remote.Channel
	for _, rc := range remoteChannels {
		switch rc.Attributes.Type {
		case remote.TypeSingle:
			singles = append(singles, rc)
		case remote.TypeGroup:
			groups = append(groups, rc)
		default:
			r.logger.Warn("skipping channel with unknown type",
				zap.String("sid", rc.Sid), zap.String("type", rc.Attributes.Type))
		}
	}

	// errgroup without a derived context: a failing step must not cancel
	// its siblings, only claim the aggregate error.
	firstErr := r.runStage(ctx, singles)
	if err := r.runStage(ctx, groups); firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Reconciler) runStage(ctx context.Context, channels []remote.Channel) error {
	var g errgroup.Group
	for _, rc := range channels {
		g.Go(func() error {
			if err := r.reconcile(ctx, rc); err != nil {
				r.logger.Error("channel reconcile failed",
					zap.String("sid", rc.Sid), zap.Error(err))
				r.bus.Emit(bus.KindSyncErrored, bus.Errored{Err: err})
				return fmt.Errorf("reconcile %s: %w", rc.Sid, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// dropUnsubscribed deletes local group channels the roster no longer
// lists. Session cleanup is best-effort: a stale crypto session never
// blocks local removal.
func (r *Reconciler) dropUnsubscribed(remoteSids map[string]bool) error {
	locals, err := r.db.ListGroupChannels(r.sessions.Identity())
	if err != nil {
		return fmt.Errorf("list local group channels: %w", err)
	}
	for _, local := range locals {
		if remoteSids[local.Sid] {
			continue
		}
		r.locks.Lock(local.Sid)
		if err := r.sessions.DeleteGroup(local.Sid); err != nil {
			r.logger.Warn("failed to delete group session",
				zap.String("sid", local.Sid), zap.Error(err))
		}
		err := r.db.DeleteChannel(local.Sid)
		r.locks.Unlock(local.Sid)
		if err != nil {
			return fmt.Errorf("delete channel %s: %w", local.Sid, err)
		}
		r.logger.Info("dropped unsubscribed channel", zap.String("sid", local.Sid))
		r.bus.Emit(bus.KindChannelDeleted, bus.ChannelDeleted{Sid: local.Sid})
	}
	return nil
}

// ReconcileChannel runs the per-channel step for a single roster entry,
// outside a full pass (the join path on channelAdded events).
func (r *Reconciler) ReconcileChannel(ctx context.Context, rc remote.Channel) error {
	return r.reconcile(ctx, rc)
}

// reconcile performs the per-channel step: persistent storage first, then
// the crypto session, then the message backlog.
func (r *Reconciler) reconcile(ctx context.Context, rc remote.Channel) error {
	r.locks.Lock(rc.Sid)
	defer r.locks.Unlock(rc.Sid)

	var ch *store.Channel
	var err error
	switch rc.Attributes.Type {
	case remote.TypeSingle:
		ch, err = r.ensureSingle(ctx, rc)
	case remote.TypeGroup:
		ch, err = r.ensureGroup(ctx, rc)
	default:
		return remote.ErrInvalidChannel
	}
	if err != nil {
		return err
	}

	return r.loadBacklog(ctx, ch, rc.Sid)
}

// ensureSingle creates or fetches the local one-to-one channel for a
// roster entry, resolving the companion's card on first sight.
func (r *Reconciler) ensureSingle(ctx context.Context, rc remote.Channel) (*store.Channel, error) {
	if ch, err := r.db.GetChannel(rc.Sid); err == nil {
		return ch, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	self := r.sessions.Identity()
	companion, err := rc.Companion(self)
	if err != nil {
		return nil, err
	}
	if ch, err := r.db.GetSingleChannel(self, companion); err == nil {
		return ch, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	card, err := r.dir.FindUser(ctx, companion)
	if err != nil {
		return nil, fmt.Errorf("resolve companion %q: %w", companion, err)
	}
	ch := &store.Channel{
		Sid:       rc.Sid,
		Account:   self,
		Name:      companion,
		Initiator: rc.Attributes.Initiator,
		Type:      store.ChannelSingle,
		Cards:     []directory.Card{card},
	}
	if err := r.db.CreateChannel(ch); err != nil {
		return nil, err
	}
	r.logger.Info("created single channel",
		zap.String("sid", rc.Sid), zap.String("companion", companion))
	return ch, nil
}

// ensureGroup creates or fetches the local group channel, side-provisions
// single channels for unknown members, and attaches the group session.
func (r *Reconciler) ensureGroup(ctx context.Context, rc remote.Channel) (*store.Channel, error) {
	self := r.sessions.Identity()

	members := make([]string, 0, len(rc.Attributes.Members))
	for _, member := range rc.Attributes.Members {
		if member != self {
			members = append(members, member)
		}
	}

	// Unknown members get their own single channels so their cards are
	// cached. A failed side-provision must not sink the group channel.
	for _, member := range members {
		if err := r.provisionMemberSingle(ctx, member); err != nil {
			r.logger.Warn("member single-channel provision failed",
				zap.String("member", member), zap.Error(err))
		}
	}

	ch, err := r.db.GetChannel(rc.Sid)
	if errors.Is(err, store.ErrNotFound) {
		result, ferr := r.dir.FindUsers(ctx, members)
		if ferr != nil {
			return nil, fmt.Errorf("resolve group members: %w", ferr)
		}
		cards := make([]directory.Card, 0, len(members))
		for _, member := range members {
			cards = append(cards, result[member])
		}
		ch = &store.Channel{
			Sid:       rc.Sid,
			Account:   self,
			Name:      rc.Attributes.FriendlyName,
			Initiator: rc.Attributes.Initiator,
			Type:      store.ChannelGroup,
			Cards:     cards,
		}
		if err := r.db.CreateChannel(ch); err != nil {
			return nil, err
		}
		r.logger.Info("created group channel",
			zap.String("sid", rc.Sid), zap.String("name", ch.Name),
			zap.Int("members", len(members)))
	} else if err != nil {
		return nil, err
	}

	if _, err := r.sessions.EnsureGroup(ch.Sid, ch.Initiator, ch.Cards); err != nil {
		return nil, fmt.Errorf("group session for %s: %w", ch.Sid, err)
	}
	return ch, nil
}

func (r *Reconciler) provisionMemberSingle(ctx context.Context, member string) error {
	self := r.sessions.Identity()
	exists, err := r.db.HasSingleChannel(self, member)
	if err != nil || exists {
		return err
	}

	r.locks.Lock("single:" + member)
	defer r.locks.Unlock("single:" + member)
	// Re-check under the lock: a sibling group reconcile referencing the
	// same member may have provisioned it already.
	exists, err = r.db.HasSingleChannel(self, member)
	if err != nil || exists {
		return err
	}

	card, err := r.dir.FindUser(ctx, member)
	if err != nil {
		return err
	}
	rc, err := r.transport.CreateSingleChannel(ctx, member)
	if err != nil {
		return err
	}
	return r.db.CreateChannel(&store.Channel{
		Sid:       rc.Sid,
		Account:   self,
		Name:      member,
		Initiator: self,
		Type:      store.ChannelSingle,
		Cards:     []directory.Card{card},
	})
}

// loadBacklog computes the remote-minus-local message delta and ingests
// exactly that many messages in delivery order. The local count keys on
// ch.Sid, not the roster sid: ensureSingle may map a roster entry onto an
// existing companion channel under a different sid, and the backlog
// persists into that channel.
func (r *Reconciler) loadBacklog(ctx context.Context, ch *store.Channel, sid string) error {
	remoteCount, err := r.transport.MessageCount(ctx, sid)
	if err != nil {
		return fmt.Errorf("message count for %s: %w", sid, err)
	}
	localCount, err := r.db.CountMessages(ch.Sid)
	if err != nil {
		return err
	}
	toLoad := remoteCount - localCount
	if toLoad <= 0 {
		return nil
	}

	msgs, err := r.transport.FetchMessagesSince(ctx, sid, toLoad)
	if err != nil {
		return fmt.Errorf("fetch backlog for %s: %w", sid, err)
	}
	r.logger.Info("loading message backlog",
		zap.String("sid", sid), zap.Int("count", len(msgs)))
	return r.proc.IngestBacklog(ctx, ch, msgs)
}
