// Package mirror keeps counterpart-linked records in step across devices.
//
// Outbound changes are written to the counterpart's relay mailbox through a
// durable Outbox. Inbound notifications are observed with one subscription
// per notification subtree and applied through a reconcile.Guard.
package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Harry0M/oikos-sub001/internal/relay"
)

const defaultResubscribeDelay = 2 * time.Second

// listener owns one long-lived subscription and dispatches every delivery to
// handle in its own goroutine.
type listener struct {
	mailbox          relay.Mailbox
	subtree          string
	handle           func(ctx context.Context, ev relay.Event)
	logger           *slog.Logger
	resubscribeDelay time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	retry    chan struct{}

	// running counts handler goroutines; idle is signalled when it drops to
	// zero.
	handlersMu sync.Mutex
	running    int
	idle       *sync.Cond
}

func newListener(mailbox relay.Mailbox, subtree string, handle func(context.Context, relay.Event), logger *slog.Logger) *listener {
	l := &listener{
		mailbox:          mailbox,
		subtree:          subtree,
		handle:           handle,
		logger:           logger,
		resubscribeDelay: defaultResubscribeDelay,
		retry:            make(chan struct{}, 1),
	}
	l.idle = sync.NewCond(&l.handlersMu)
	return l
}

// start attaches the subscription. Calling it again while running is a no-op.
func (l *listener) start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.loopDone = make(chan struct{})
	go l.loop(ctx, l.loopDone)
}

// stop detaches the subscription. Handlers already running are not
// interrupted; use wait to block until they finish.
func (l *listener) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.loopDone
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// wait blocks until no handler is running. It is safe to call while the
// listener is still delivering.
func (l *listener) wait() {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	for l.running > 0 {
		l.idle.Wait()
	}
}

func (l *listener) dispatch(ctx context.Context, ev relay.Event) {
	l.handlersMu.Lock()
	l.running++
	l.handlersMu.Unlock()
	go func() {
		defer func() {
			l.handlersMu.Lock()
			l.running--
			if l.running == 0 {
				l.idle.Broadcast()
			}
			l.handlersMu.Unlock()
		}()
		l.handle(ctx, ev)
	}()
}

// resubscribe drops the current subscription so that the subtree is replayed.
func (l *listener) resubscribe() {
	select {
	case l.retry <- struct{}{}:
	default:
	}
}

func (l *listener) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		sub, err := l.mailbox.Subscribe(ctx, l.subtree)
		if err != nil {
			l.logger.Warn("Subscribe failed", "subtree", l.subtree, "error", err)
			if !l.sleep(ctx) {
				return
			}
			continue
		}
		l.logger.Debug("Listening", "subtree", l.subtree)

		again := l.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		if err := sub.Err(); err != nil {
			l.logger.Warn("Subscription ended", "subtree", l.subtree, "error", err)
		}
		if !again && !l.sleep(ctx) {
			return
		}
	}
}

// consume reads events until the feed ends. It reports true when the feed
// was dropped on request and should be reattached at once.
func (l *listener) consume(ctx context.Context, sub *relay.Subscription) bool {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.retry:
			return true
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			if ev.Kind == relay.EventRemoved {
				continue
			}
			l.dispatch(handlerCtx, ev)
		}
	}
}

func (l *listener) sleep(ctx context.Context) bool {
	t := time.NewTimer(l.resubscribeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
