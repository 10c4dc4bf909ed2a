package dht

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cowtools/mainlinedht/bencode"
	"github.com/cowtools/mainlinedht/kademlia"
	"github.com/cowtools/mainlinedht/krpc"
	"github.com/cowtools/mainlinedht/peerstore"
)

// LookupMode selects which query verb an iterative lookup probes with.
type LookupMode int

const (
	// FindNode drives the lookup with find_node probes.
	FindNode LookupMode = iota
	// GetPeers drives the lookup with get_peers probes.
	GetPeers
)

// lookupAlpha is Kademlia's lookup concurrency parameter.
const lookupAlpha = 3

// Lookup runs the α-parallel iterative closest-node search from spec.md
// §4.7 for target, using mode to pick the probe verb, optionally seeded
// with addrs. It blocks until the frontier is exhausted or the node is
// closed; the caller is
// expected to consume results via the routing table and peer store, which
// every probe response eagerly populates as a side effect.
func (n *Node) Lookup(target kademlia.NodeID, mode LookupMode, seeds []kademlia.Endpoint) {
	l := &lookupState{
		node:    n,
		target:  target,
		mode:    mode,
		queried: make(map[string]bool),
		done:    make(chan struct{}),
		sem:     semaphore.NewWeighted(lookupAlpha),
	}
	l.mu.Lock()
	l.frontier = append(l.frontier, seeds...)
	l.mu.Unlock()

	l.refillFrontier()
	l.dispatch()
	<-l.done
}

type lookupState struct {
	node    *Node
	target  kademlia.NodeID
	mode    LookupMode
	sem     *semaphore.Weighted

	mu       sync.Mutex
	queried  map[string]bool
	frontier []kademlia.Endpoint
	pending  int

	finishOnce sync.Once
	done       chan struct{}
}

// refillFrontier recomputes candidates = RoutingTable.closest(target, K)
// minus queried, appending any not already queued, then re-sorts the
// frontier closest-first: by XOR distance of the node ID for endpoints in
// the current candidate set, and by endpointPseudoID for any other entry.
func (l *lookupState) refillFrontier() {
	candidates := l.node.table.Closest(l.target, kademlia.K)

	l.mu.Lock()
	defer l.mu.Unlock()
	inFrontier := make(map[string]bool, len(l.frontier))
	for _, ep := range l.frontier {
		inFrontier[ep.String()] = true
	}
	ids := make(map[string]kademlia.NodeID, len(candidates))
	for _, c := range candidates {
		key := c.Endpoint.String()
		ids[key] = c.ID
		if l.queried[key] || inFrontier[key] {
			continue
		}
		l.frontier = append(l.frontier, c.Endpoint)
		inFrontier[key] = true
	}
	target := l.target
	distOf := func(ep kademlia.Endpoint) kademlia.Distance {
		if id, ok := ids[ep.String()]; ok {
			return kademlia.XOR(target, id)
		}
		return kademlia.XOR(target, endpointPseudoID(ep))
	}
	sort.Slice(l.frontier, func(i, j int) bool {
		return distOf(l.frontier[i]).Less(distOf(l.frontier[j]))
	})
}

// endpointPseudoID is a stable stand-in ordering key for a frontier endpoint
// whose node ID is not in the current candidate set (seed endpoints). It has
// no cryptographic meaning; it only gives such endpoints a consistent place
// in the probe order.
func endpointPseudoID(ep kademlia.Endpoint) kademlia.NodeID {
	var id kademlia.NodeID
	copy(id[:4], ep.IP.To4())
	id[4] = byte(ep.Port >> 8)
	id[5] = byte(ep.Port)
	return id
}

// dispatch issues probes, closest-first, until pending == alpha or the
// frontier is exhausted.
func (l *lookupState) dispatch() {
	l.mu.Lock()
	var toStart []kademlia.Endpoint
	for l.pending < lookupAlpha && len(l.frontier) > 0 {
		ep := l.frontier[0]
		l.frontier = l.frontier[1:]
		l.queried[ep.String()] = true
		l.pending++
		toStart = append(toStart, ep)
	}
	converged := l.pending == 0 && len(l.frontier) == 0
	l.mu.Unlock()

	for _, ep := range toStart {
		go l.probe(ep)
	}
	if converged {
		l.finish()
	}
}

func (l *lookupState) finish() {
	l.finishOnce.Do(func() { close(l.done) })
}

func (l *lookupState) probe(ep kademlia.Endpoint) {
	ctx := context.Background()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.onProbeComplete()
		return
	}
	defer l.sem.Release(1)

	done := make(chan struct{})
	verb, args := l.probeArgs()
	err := l.node.sendQuery(ep.UDPAddr(), verb, args, func(result map[string]bencode.Value, rerr error) {
		if rerr == nil && result != nil {
			l.node.ingestLookupReply(ep, l.target, result)
		}
		close(done)
	})
	if err != nil {
		close(done)
	}
	// Close drops pending resolvers without calling them, so also stop
	// waiting once the node shuts down.
	select {
	case <-done:
	case <-l.node.stop:
	}
	l.onProbeComplete()
}

func (l *lookupState) probeArgs() (string, map[string]bencode.Value) {
	switch l.mode {
	case GetPeers:
		return "get_peers", map[string]bencode.Value{
			"id":        bencode.String(l.node.id[:]),
			"info_hash": bencode.String(l.target[:]),
		}
	default:
		return "find_node", map[string]bencode.Value{
			"id":     bencode.String(l.node.id[:]),
			"target": bencode.String(l.target[:]),
		}
	}
}

func (l *lookupState) onProbeComplete() {
	l.mu.Lock()
	l.pending--
	l.mu.Unlock()
	l.refillFrontier()
	l.dispatch()
}

// ingestLookupReply eagerly folds a probe response's nodes/values into the
// routing table and peer store, per spec.md §4.7's side-effect model.
func (n *Node) ingestLookupReply(from kademlia.Endpoint, target kademlia.NodeID, result map[string]bencode.Value) {
	if idBytes, ok := krpc.DictString(result, "id"); ok {
		if id, err := kademlia.NodeIDFromBytes(idBytes); err == nil {
			n.table.Add(kademlia.Contact{ID: id, Endpoint: from})
			n.emit(NodeSeenEvent{Endpoint: from, ID: id})
		}
	}

	if nodesBytes, ok := krpc.DictString(result, "nodes"); ok {
		for _, c := range krpc.DecodeCompactNodes(nodesBytes) {
			n.table.Add(c)
			n.emit(NodeSeenEvent{Endpoint: c.Endpoint, ID: c.ID})
		}
	}

	if valuesVal, ok := result["values"]; ok && valuesVal.Kind == bencode.KindList {
		var ih peerstore.InfoHash
		copy(ih[:], target[:])
		for _, v := range valuesVal.List {
			if v.Kind != bencode.KindString || len(v.Str) != peerstore.EntryLength {
				continue
			}
			var entry peerstore.Entry
			copy(entry[:], v.Str)
			n.peers.Add(ih, entry)
			n.emit(PeerFoundEvent{Endpoint: kademlia.Endpoint{IP: entry.IP(), Port: entry.Port()}, InfoHash: target})
		}
	}
}
