package daemon

import (
	"context"

	"github.com/matheus3301/sigil/internal/chats"
	"github.com/matheus3301/sigil/internal/processor"
	"github.com/matheus3301/sigil/internal/reconcile"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/status"
	"go.uber.org/zap"
)

// Loop consumes transport events and drives the core in response: joins
// for new channels, decryption for new messages, full reconciliation on
// (re)connect. Everything runs on a single goroutine so channel joins and
// message processing never race a running sync.
type Loop struct {
	transport remote.Transport
	proc      *processor.Processor
	chats     *chats.Manager
	rec       *reconcile.Reconciler
	machine   *status.Machine
	logger    *zap.Logger

	syncReq chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop creates the event loop over the injected collaborators.
func NewLoop(transport remote.Transport, proc *processor.Processor, cm *chats.Manager, rec *reconcile.Reconciler, machine *status.Machine, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		transport: transport,
		proc:      proc,
		chats:     cm,
		rec:       rec,
		machine:   machine,
		logger:    logger,
		syncReq:   make(chan struct{}, 1),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
}

// Stop terminates the loop and waits for it to drain.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// RequestSync schedules a full reconciliation. Requests arriving while
// one is already pending coalesce.
func (l *Loop) RequestSync() {
	select {
	case l.syncReq <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	events := l.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.syncReq:
			l.sync(ctx)
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *Loop) handle(ctx context.Context, evt remote.Event) {
	switch e := evt.(type) {
	case remote.ConnectionStateChanged:
		l.machine.Apply(e.State)
		if e.State == remote.StateConnected {
			l.RequestSync()
		}
	case remote.ChannelAdded:
		if err := l.chats.Join(ctx, e.Channel); err != nil {
			l.logger.Error("join channel failed",
				zap.String("sid", e.Channel.Sid), zap.Error(err))
		}
	case remote.MessageAdded:
		if err := l.proc.Process(ctx, e.Sid, e.Message); err != nil {
			l.logger.Error("process message failed",
				zap.String("sid", e.Sid), zap.Error(err))
		}
	}
}

func (l *Loop) sync(ctx context.Context) {
	_ = l.machine.Transition(status.Syncing)
	if err := l.rec.ReconcileAll(ctx); err != nil {
		l.logger.Error("reconcile failed", zap.Error(err))
		_ = l.machine.Transition(status.Error)
		return
	}
	_ = l.machine.Transition(status.Ready)
}
