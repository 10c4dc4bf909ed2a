// Package transaction tracks outstanding DHT queries so replies and
// timeouts can be matched back to the caller that sent them.
package transaction

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Timeout is the fixed per-query deadline after which a pending
// transaction is resolved with ErrTimeout.
const Timeout = 2 * time.Second

// ErrTimeout is delivered to a resolver when no reply arrives in time.
var ErrTimeout = errors.New("transaction: timeout")

// Resolver is invoked exactly once when a transaction completes, either
// with the decoded reply payload or a non-nil error (ErrTimeout, or a
// protocol-level error carried in the reply).
type Resolver func(reply []byte, err error)

// key identifies a pending transaction by remote endpoint and wire tid.
type key struct {
	addr string
	tid  uint16
}

type pending struct {
	resolver Resolver
	timer    *time.Timer
	resolved int32 // atomic, guards at-most-once delivery
}

// Registry maps (endpoint, tid) to pending callbacks and allocates fresh
// transaction IDs per endpoint.
type Registry struct {
	mu       sync.Mutex
	table    map[key]*pending
	counters map[string]uint16
	closed   bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		table:    make(map[key]*pending),
		counters: make(map[string]uint16),
	}
}

// Register allocates a transaction ID for addr, arms the 2-second timeout,
// and returns the 2-byte big-endian wire encoding of that ID. The resolver
// is invoked at most once: on matching Resolve, or on timeout.
func (r *Registry) Register(addr *net.UDPAddr, resolver Resolver) (tidBytes []byte, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("transaction: registry is closed")
	}
	addrStr := addr.String()
	r.counters[addrStr]++
	tid := r.counters[addrStr]
	k := key{addr: addrStr, tid: tid}

	p := &pending{resolver: resolver}
	r.table[k] = p
	r.mu.Unlock()

	p.timer = time.AfterFunc(Timeout, func() {
		r.fire(k, p, nil, ErrTimeout)
	})

	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, tid)
	return b, nil
}

// Resolve matches an inbound reply or error to a pending transaction and
// invokes its resolver. It reports whether a pending transaction was found.
func (r *Registry) Resolve(addr *net.UDPAddr, tidBytes []byte, reply []byte, replyErr error) bool {
	tid, ok := decodeTid(tidBytes)
	if !ok {
		return false
	}
	k := key{addr: addr.String(), tid: tid}

	r.mu.Lock()
	p, ok := r.table[k]
	if ok {
		delete(r.table, k)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.fire(k, p, reply, replyErr)
	return true
}

func (r *Registry) fire(k key, p *pending, reply []byte, err error) {
	if !atomic.CompareAndSwapInt32(&p.resolved, 0, 1) {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Lock()
	delete(r.table, k)
	r.mu.Unlock()
	p.resolver(reply, err)
}

// decodeTid interprets a wire transaction id as a big-endian uint16. Inbound
// tids of other lengths cannot be matched against local state.
func decodeTid(b []byte) (uint16, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

// Destroy cancels every pending timer and drops all resolvers without
// invoking them. After Destroy, Register fails.
func (r *Registry) Destroy() {
	r.mu.Lock()
	r.closed = true
	table := r.table
	r.table = make(map[key]*pending)
	r.mu.Unlock()

	for _, p := range table {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
}

// Pending returns the number of outstanding transactions, for diagnostics.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}
