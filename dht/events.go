package dht

import "github.com/cowtools/mainlinedht/kademlia"

// Event is the closed set of notifications a Node emits on its Events
// channel, replacing a per-event callback/emitter surface.
type Event interface {
	isEvent()
}

// ListeningEvent fires once the UDP socket is bound and accepting datagrams.
type ListeningEvent struct {
	Port int
}

// NodeSeenEvent fires when a contact is learned, whether from an unsolicited
// datagram or a query response.
type NodeSeenEvent struct {
	Endpoint kademlia.Endpoint
	ID       kademlia.NodeID
}

// PeerFoundEvent fires when a peer is learned for an info-hash, whether from
// an announce_peer or a get_peers response ingested during a lookup.
type PeerFoundEvent struct {
	Endpoint kademlia.Endpoint
	InfoHash [20]byte
}

// WarningEvent fires for recoverable protocol anomalies (an error message
// matching no pending transaction) that do not warrant tearing anything down.
type WarningEvent struct {
	Err error
}

// ErrorEvent fires for failures that affect the node's ability to operate,
// such as a socket bind failure.
type ErrorEvent struct {
	Err error
}

func (ListeningEvent) isEvent() {}
func (NodeSeenEvent) isEvent()  {}
func (PeerFoundEvent) isEvent() {}
func (WarningEvent) isEvent()   {}
func (ErrorEvent) isEvent()     {}
