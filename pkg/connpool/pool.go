// Package connpool implements a bounded, lazily-populated pool of reusable
// tunnel connections, plus a per-host registry of pools keyed by
// (host, port, TLS) so callers never have to thread pool plumbing through
// the rest of the client.
package connpool

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
)

// Factory creates a new pooled value on demand.
type Factory[T any] func(ctx context.Context) (T, error)

// Pool is a fixed-capacity pool of lazily-created values of type T. Unlike
// a sync.Pool, items here are not evictable under memory pressure and
// capacity is a hard bound — Acquire blocks (honoring ctx) once that bound
// is reached rather than letting the caller over-provision connections.
//
// Slots are realized up front as a buffered channel of slot tickets; the
// underlying T values are created lazily, one sync.Once per slot, the
// first time that slot is drawn. This gets the same "don't pay for N
// connections you never needed" property as creating connections one at a
// time off a counter, without the counter's own race window between
// "check capacity" and "increment it".
type Pool[T any] struct {
	factory        Factory[T]
	shouldTrash    func(T) bool
	acquireTimeout time.Duration

	tickets chan *slot[T]
	mu      sync.Mutex
}

type slot[T any] struct {
	once     sync.Once
	realized bool
	value    T
	err      error
}

// New builds a Pool with the given capacity. shouldTrash, if non-nil, is
// consulted before handing out a value that already survived a previous
// Acquire, to decide whether it should be rebuilt instead of reused (a
// connection gone stale or dead while it sat idle, for instance); a trashed
// value that implements io.Closer is closed before it is rebuilt. A nil
// shouldTrash always reuses. acquireTimeout bounds how long Acquire waits
// for a free slot before failing with a TimeoutError; zero means
// defaults.HandshakeTimeout.
func New[T any](capacity int, factory Factory[T], shouldTrash func(T) bool, acquireTimeout time.Duration) *Pool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool[T]{
		factory:        factory,
		shouldTrash:    shouldTrash,
		acquireTimeout: acquireTimeout,
		tickets:        make(chan *slot[T], capacity),
	}
	for i := 0; i < capacity; i++ {
		p.tickets <- &slot[T]{}
	}
	return p
}

func (p *Pool[T]) timeout() time.Duration {
	if p.acquireTimeout > 0 {
		return p.acquireTimeout
	}
	return defaults.HandshakeTimeout
}

// Acquire waits for a free slot, realizing its value via Factory the first
// time that particular slot is used, and returns it along with a release
// function the caller must call exactly once.
//
// shouldTrash is consulted here, on the way out, rather than in release:
// a value that was perfectly fine a moment ago (it was just handed back)
// tells you nothing about whether it's still good after sitting idle in
// the ticket channel. Checking at Acquire means a stale or dead pooled
// value is caught and rebuilt before a caller ever sees it, instead of
// only after the caller already failed to use it. It's skipped for a
// value this very call just built, since nothing new could have gone
// stale between the factory call three lines up and here.
func (p *Pool[T]) Acquire(ctx context.Context) (T, func(), error) {
	var zero T

	select {
	case s := <-p.tickets:
		wasRealized := s.realized
		s.once.Do(func() {
			s.value, s.err = p.factory(ctx)
			s.realized = true
		})
		if s.err != nil {
			// Let a later Acquire retry construction instead of caching
			// a permanent failure in this slot.
			s.once, s.realized = sync.Once{}, false
			p.tickets <- s
			return zero, nil, s.err
		}

		if wasRealized && p.shouldTrash != nil && p.shouldTrash(s.value) {
			if c, ok := any(s.value).(io.Closer); ok {
				c.Close()
			}
			s.value, s.err = p.factory(ctx)
			if s.err != nil {
				err := s.err
				s.once, s.realized, s.err = sync.Once{}, false, nil
				p.tickets <- s
				return zero, nil, err
			}
		}

		release := func() { p.release(s) }
		return s.value, release, nil

	case <-ctx.Done():
		return zero, nil, proxyerr.NewCancelledError("pool acquire", ctx.Err())

	case <-time.After(p.timeout()):
		return zero, nil, proxyerr.NewTimeoutError("pool acquire", p.timeout())
	}
}

func (p *Pool[T]) release(s *slot[T]) {
	p.tickets <- s
}

// Len returns the pool's fixed capacity.
func (p *Pool[T]) Len() int {
	return cap(p.tickets)
}
