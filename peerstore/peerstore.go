// Package peerstore holds the per-info-hash set of peers learned through
// announce_peer, with time-based eviction of stale entries.
package peerstore

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InfoHashLength is the width of a torrent info-hash in bytes.
const InfoHashLength = 20

// EntryLength is the width of the compact peer encoding: 4-byte IPv4 plus
// 2-byte big-endian port.
const EntryLength = 6

// InfoHash identifies a torrent.
type InfoHash [InfoHashLength]byte

// Entry is the 6-byte compact peer encoding.
type Entry [EntryLength]byte

// NewEntry packs an IPv4 endpoint into its compact form.
func NewEntry(ip net.IP, port int) (Entry, error) {
	var e Entry
	v4 := ip.To4()
	if v4 == nil {
		return e, errors.New("peerstore: peer address is not IPv4")
	}
	copy(e[0:4], v4)
	binary.BigEndian.PutUint16(e[4:6], uint16(port))
	return e, nil
}

// IP returns the entry's IPv4 address.
func (e Entry) IP() net.IP {
	return net.IPv4(e[0], e[1], e[2], e[3])
}

// Port returns the entry's UDP port.
func (e Entry) Port() int {
	return int(binary.BigEndian.Uint16(e[4:6]))
}

type record struct {
	lastSeen time.Time
}

// Store maps info-hash to a deduplicated set of peer entries.
type Store struct {
	mu      sync.Mutex
	peers   map[InfoHash]map[Entry]*record
	now     func() time.Time
	maxAge  time.Duration
}

// DefaultMaxAge is how long an announced peer is retained without a
// refreshing re-announce before the periodic sweep evicts it.
const DefaultMaxAge = 2 * time.Hour

// NewStore constructs an empty Store using the given max peer age. A
// maxAge of zero disables eviction (entries live for the process lifetime,
// matching the original unbounded-lifetime scope).
func NewStore(maxAge time.Duration) *Store {
	return &Store{
		peers:  make(map[InfoHash]map[Entry]*record),
		now:    time.Now,
		maxAge: maxAge,
	}
}

// Add inserts entry under infoHash, refreshing its last-seen time if it is
// already present. Duplicate entries (by 6-byte equality) are suppressed.
func (s *Store) Add(infoHash InfoHash, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.peers[infoHash]
	if !ok {
		set = make(map[Entry]*record)
		s.peers[infoHash] = set
	}
	set[entry] = &record{lastSeen: s.now()}
}

// Remove deletes entry from infoHash's set, if present.
func (s *Store) Remove(infoHash InfoHash, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.peers[infoHash]
	if !ok {
		return
	}
	delete(set, entry)
	if len(set) == 0 {
		delete(s.peers, infoHash)
	}
}

// Get returns every peer entry currently stored for infoHash.
func (s *Store) Get(infoHash InfoHash) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.peers[infoHash]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out
}

// Count returns how many peers are stored for infoHash.
func (s *Store) Count(infoHash InfoHash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers[infoHash])
}

// Evict removes every entry whose last-seen time is older than maxAge. It
// is a no-op when the Store was constructed with maxAge == 0.
func (s *Store) Evict() (removed int) {
	if s.maxAge == 0 {
		return 0
	}
	cutoff := s.now().Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ih, set := range s.peers {
		for e, rec := range set {
			if rec.lastSeen.Before(cutoff) {
				delete(set, e)
				removed++
			}
		}
		if len(set) == 0 {
			delete(s.peers, ih)
		}
	}
	return removed
}
