package connpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// HostKey identifies one per-host connection pool. Two requests to the
// same host but different schemes (plain vs TLS) must never share pooled
// sockets, hence TLS is part of the key.
type HostKey struct {
	Host string
	Port int
	TLS  bool
}

func (k HostKey) String() string {
	scheme := "tcp"
	if k.TLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, k.Host, k.Port)
}

// Tunnel is a pooled connection plus the bookkeeping the registry needs to
// decide whether it's still worth reusing.
type Tunnel struct {
	net.Conn
	createdAt time.Time
	lastUsed  time.Time
	closed    atomic.Bool
}

// Close closes the connection and marks the tunnel so the pool rebuilds it
// on the next Acquire instead of handing it out again.
func (t *Tunnel) Close() error {
	t.closed.Store(true)
	return t.Conn.Close()
}

// MarkUsed stamps the tunnel's last-use time; callers should call this
// when handing a tunnel back after a successful exchange.
func (t *Tunnel) MarkUsed() {
	t.lastUsed = time.Now()
}

// Stale reports whether conn has been idle longer than maxIdle.
func (t *Tunnel) Stale(maxIdle time.Duration) bool {
	return maxIdle > 0 && time.Since(t.lastUsed) > maxIdle
}

// Alive does a best-effort liveness probe: a very short read deadline that
// should hit a timeout on a healthy idle connection. Any other outcome —
// a clean read (unexpected out-of-band data) or an error other than a
// timeout — is treated as dead. This produces occasional false negatives
// on a live connection that happens to receive stray bytes between
// requests, which only costs a connection recreation, never a correctness
// bug.
func (t *Tunnel) Alive() bool {
	t.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer t.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	_, err := t.Read(one)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}

// Registry maps HostKey to a bounded Pool[*Tunnel], creating pools lazily
// on first use. Double-checked locking with an RWMutex keeps the common
// case (pool already exists) on a shared read lock, so concurrent lookups
// do not serialize.
type Registry struct {
	mu             sync.RWMutex
	pools          map[HostKey]*Pool[*Tunnel]
	capacity       int
	maxIdle        time.Duration
	acquireTimeout time.Duration
	dial           func(ctx context.Context, key HostKey) (net.Conn, error)
}

// NewRegistry builds a Registry. dial is called to create a fresh
// connection whenever a pool slot is realized for the first time.
// acquireTimeout bounds how long Acquire waits for a free slot in any one
// of the registry's per-host pools; zero means defaults.HandshakeTimeout.
func NewRegistry(capacityPerHost int, maxIdle, acquireTimeout time.Duration, dial func(ctx context.Context, key HostKey) (net.Conn, error)) *Registry {
	return &Registry{
		pools:          make(map[HostKey]*Pool[*Tunnel]),
		capacity:       capacityPerHost,
		maxIdle:        maxIdle,
		acquireTimeout: acquireTimeout,
		dial:           dial,
	}
}

func (r *Registry) poolFor(key HostKey) *Pool[*Tunnel] {
	r.mu.RLock()
	p, ok := r.pools[key]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[key]; ok {
		return p
	}

	p = New(r.capacity, func(ctx context.Context) (*Tunnel, error) {
		conn, err := r.dial(ctx, key)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		return &Tunnel{Conn: conn, createdAt: now, lastUsed: now}, nil
	}, func(t *Tunnel) bool {
		if t == nil || t.closed.Load() {
			return true
		}
		if r.maxIdle <= 0 {
			return !t.Alive()
		}
		return t.Stale(r.maxIdle) && !t.Alive()
	}, r.acquireTimeout)
	r.pools[key] = p
	return p
}

// Acquire gets a tunnel for key, creating its pool on first use.
func (r *Registry) Acquire(ctx context.Context, key HostKey) (*Tunnel, func(), error) {
	return r.poolFor(key).Acquire(ctx)
}

// CloseAll closes every realized tunnel that is idle in its pool at the time
// of the call; a tunnel currently held by a caller is not closed. Pools
// themselves are dropped so a subsequent Acquire starts fresh.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.pools {
		for i := 0; i < p.Len(); i++ {
			select {
			case s := <-p.tickets:
				var zero *Tunnel
				if s.value != zero {
					s.value.Close()
				}
			default:
			}
		}
		delete(r.pools, key)
	}
}
