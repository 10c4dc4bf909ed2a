// Package dht wires the routing table, token authority, transaction
// registry, and peer store into a running mainline DHT participant: it owns
// the UDP socket, dispatches inbound queries to handlers, drives the
// iterative lookup, and bootstraps onto the network.
package dht

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cowtools/mainlinedht/kademlia"
	"github.com/cowtools/mainlinedht/peerstore"
	"github.com/cowtools/mainlinedht/token"
	"github.com/cowtools/mainlinedht/transaction"
)

// Node is a single DHT participant.
type Node struct {
	id  kademlia.NodeID
	cfg Config
	log *logrus.Entry

	table  *kademlia.RoutingTable
	peers  *peerstore.Store
	tokens *token.Authority
	txs    *transaction.Registry

	events chan Event

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup

	bootstrap *BootstrapManager
}

// New constructs a Node ready to Listen. It does not touch the network.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()

	var id kademlia.NodeID
	if cfg.LocalID != nil {
		id = *cfg.LocalID
	} else {
		generated, err := kademlia.NewNodeID()
		if err != nil {
			return nil, err
		}
		id = generated
	}

	tokens, err := token.NewAuthority()
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:     id,
		cfg:    cfg,
		log:    logrus.WithField("component", "dht").WithField("node_id", id.String()),
		table:  kademlia.NewRoutingTable(id),
		peers:  peerstore.NewStore(cfg.PeerMaxAge),
		tokens: tokens,
		txs:    transaction.NewRegistry(),
		events: make(chan Event, 64),
		stop:   make(chan struct{}),
	}
	n.bootstrap = newBootstrapManager(n)
	return n, nil
}

// ID returns the local node identifier.
func (n *Node) ID() kademlia.NodeID { return n.id }

// Events returns the channel Listening/NodeSeen/PeerFound/Warning/Error
// notifications are delivered on.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		n.log.WithField("event", e).Warn("event channel full, dropping event")
	}
}

// Listen binds the UDP socket and begins accepting datagrams. It emits a
// ListeningEvent once bound, then runs bootstrap unless disabled.
func (n *Node) Listen() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: n.cfg.Port})
	if err != nil {
		n.emit(ErrorEvent{Err: errors.Wrap(err, "dht: bind UDP socket")})
		return errors.Wrap(err, "dht: bind UDP socket")
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	n.wg.Add(1)
	go n.receiveLoop()

	n.wg.Add(1)
	go n.rotateSecretsLoop()

	if n.cfg.PeerMaxAge > 0 {
		n.wg.Add(1)
		go n.evictPeersLoop()
	}

	port := conn.LocalAddr().(*net.UDPAddr).Port
	n.log.WithField("port", port).Info("listening")
	n.emit(ListeningEvent{Port: port})

	if !n.cfg.DisableBootstrap {
		n.wg.Add(1)
		go n.bootstrap.run()
	}
	return nil
}

// Close performs the shutdown described in spec.md §5: cancels the secret
// rotation timer, the bootstrap retry timer, all pending transaction
// timers, and closes the UDP socket. After Close every public operation is
// a no-op.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	conn := n.conn
	n.mu.Unlock()

	close(n.stop)
	n.txs.Destroy()
	if conn != nil {
		conn.Close()
	}
	n.wg.Wait()
	close(n.events)
	return nil
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// AddNode inserts a contact into the routing table directly, per the
// programmatic addNode interface.
func (n *Node) AddNode(ep kademlia.Endpoint, id kademlia.NodeID) {
	if n.isClosed() {
		return
	}
	n.table.Add(kademlia.Contact{ID: id, Endpoint: ep})
	n.emit(NodeSeenEvent{Endpoint: ep, ID: id})
}

// RemoveNode deletes a contact from the routing table.
func (n *Node) RemoveNode(id kademlia.NodeID) {
	if n.isClosed() {
		return
	}
	n.table.Remove(id)
}

// AddPeer inserts a peer into the peer store for infoHash directly, per the
// programmatic addPeer interface.
func (n *Node) AddPeer(ep kademlia.Endpoint, infoHash [20]byte) {
	if n.isClosed() {
		return
	}
	entry, err := peerstore.NewEntry(ep.IP, ep.Port)
	if err != nil {
		return
	}
	n.peers.Add(peerstore.InfoHash(infoHash), entry)
	n.emit(PeerFoundEvent{Endpoint: ep, InfoHash: infoHash})
}

// RemovePeer deletes a peer entry from infoHash's set.
func (n *Node) RemovePeer(infoHash [20]byte, ep kademlia.Endpoint) {
	if n.isClosed() {
		return
	}
	entry, err := peerstore.NewEntry(ep.IP, ep.Port)
	if err != nil {
		return
	}
	n.peers.Remove(peerstore.InfoHash(infoHash), entry)
}

// Peers returns the currently stored peers for infoHash, for callers that
// want to read out what a get_peers lookup accumulated.
func (n *Node) Peers(infoHash [20]byte) []peerstore.Entry {
	return n.peers.Get(peerstore.InfoHash(infoHash))
}

// RoutingTableSize reports how many contacts the local table currently
// holds, for diagnostics and the bootstrap-empty-table check.
func (n *Node) RoutingTableSize() int {
	return n.table.Count()
}

func (n *Node) rotateSecretsLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(token.RotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			if err := n.tokens.Rotate(); err != nil {
				n.log.WithError(err).Warn("secret rotation failed")
			}
		}
	}
}

func (n *Node) evictPeersLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.PeerEvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			if removed := n.peers.Evict(); removed > 0 {
				n.log.WithField("removed", removed).Debug("evicted stale peers")
			}
		}
	}
}
