package livesync

import (
	"context"
	"sync"
)

// lifecycle owns the background work of an Engine or GameSession: the
// subscription loop and short-lived asynchronous calls such as refreshes and
// read receipts. Close cancels all of it and waits.
type lifecycle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func (l *lifecycle) init() {
	l.ctx, l.cancel = context.WithCancel(context.Background())
}

// start runs loop once in the background. Cancelling parent stops it, as
// does close.
func (l *lifecycle) start(parent context.Context, loop func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return nil
	}
	l.started = true
	context.AfterFunc(parent, l.cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		loop(l.ctx)
	}()
	return nil
}

// goAsync runs fn in the background unless the owner is closing.
func (l *lifecycle) goAsync(fn func(ctx context.Context)) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		fn(l.ctx)
	}()
}

// close cancels background work and waits for it. It reports whether this
// call did the closing.
func (l *lifecycle) close() bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.closed = true
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
	return true
}

func (l *lifecycle) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
