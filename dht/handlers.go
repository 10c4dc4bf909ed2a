package dht

import (
	"net"

	"github.com/cowtools/mainlinedht/bencode"
	"github.com/cowtools/mainlinedht/kademlia"
	"github.com/cowtools/mainlinedht/krpc"
	"github.com/cowtools/mainlinedht/peerstore"
)

// handleQuery dispatches an incoming query to the matching verb handler and
// writes the reply (result or error) it produces.
func (n *Node) handleQuery(addr *net.UDPAddr, msg krpc.Message) {
	var result map[string]bencode.Value
	var err error

	switch msg.Q {
	case "ping":
		result, err = n.handlePing(addr, msg)
	case "find_node":
		result, err = n.handleFindNode(addr, msg)
	case "get_peers":
		result, err = n.handleGetPeers(addr, msg)
	case "announce_peer":
		result, err = n.handleAnnouncePeer(addr, msg)
	default:
		n.sendError(addr, msg.T, krpc.ErrorMethodUnknown, "unexpected query type "+msg.Q)
		return
	}

	if err != nil {
		if qe, ok := err.(*queryError); ok {
			n.sendError(addr, msg.T, qe.code, qe.msg)
			return
		}
		n.sendError(addr, msg.T, krpc.ErrorProtocol, err.Error())
		return
	}
	n.sendResult(addr, msg.T, result)
}

func (n *Node) handlePing(addr *net.UDPAddr, msg krpc.Message) (map[string]bencode.Value, error) {
	return idResult(n.id), nil
}

func (n *Node) handleFindNode(addr *net.UDPAddr, msg krpc.Message) (map[string]bencode.Value, error) {
	targetBytes, ok := krpc.DictString(msg.A, "target")
	if !ok || len(targetBytes) != kademlia.IDLength {
		return nil, newQueryError(krpc.ErrorProtocol, "missing target")
	}
	target, err := kademlia.NodeIDFromBytes(targetBytes)
	if err != nil {
		return nil, newQueryError(krpc.ErrorProtocol, "malformed target")
	}

	var nodes []kademlia.Contact
	if exact, found := n.table.Get(target); found {
		nodes = []kademlia.Contact{exact}
	} else {
		nodes = n.table.Closest(target, kademlia.K)
	}

	result := idResult(n.id)
	result["nodes"] = bencode.String(krpc.EncodeCompactNodes(nodes))
	return result, nil
}

func (n *Node) handleGetPeers(addr *net.UDPAddr, msg krpc.Message) (map[string]bencode.Value, error) {
	infoHashBytes, ok := krpc.DictString(msg.A, "info_hash")
	if !ok || len(infoHashBytes) != peerstore.InfoHashLength {
		return nil, newQueryError(krpc.ErrorProtocol, "missing info_hash")
	}
	var ih peerstore.InfoHash
	copy(ih[:], infoHashBytes)

	result := idResult(n.id)
	result["token"] = bencode.String(n.tokens.Issue(addr.IP))

	if peers := n.peers.Get(ih); len(peers) > 0 {
		values := make([]bencode.Value, len(peers))
		for i, p := range peers {
			values[i] = bencode.String(p[:])
		}
		result["values"] = bencode.List(values)
		return result, nil
	}

	target, err := kademlia.NodeIDFromBytes(infoHashBytes)
	if err != nil {
		return nil, newQueryError(krpc.ErrorProtocol, "malformed info_hash")
	}
	result["nodes"] = bencode.String(krpc.EncodeCompactNodes(n.table.Closest(target, kademlia.K)))
	return result, nil
}

func (n *Node) handleAnnouncePeer(addr *net.UDPAddr, msg krpc.Message) (map[string]bencode.Value, error) {
	infoHashBytes, ok := krpc.DictString(msg.A, "info_hash")
	if !ok || len(infoHashBytes) != peerstore.InfoHashLength {
		return nil, newQueryError(krpc.ErrorProtocol, "missing info_hash")
	}
	tokenBytes, ok := krpc.DictString(msg.A, "token")
	if !ok {
		return nil, newQueryError(krpc.ErrorProtocol, "cannot announce_peer with bad token")
	}
	if !n.tokens.Verify(tokenBytes, addr.IP) {
		return nil, newQueryError(krpc.ErrorProtocol, "cannot announce_peer with bad token")
	}

	impliedPort := krpc.DictInt(msg.A, "implied_port", 0)
	var effectivePort int
	if impliedPort != 0 {
		effectivePort = addr.Port
	} else {
		portArg := krpc.DictInt(msg.A, "port", -1)
		if portArg <= 0 || portArg >= 65535 {
			return nil, newQueryError(krpc.ErrorProtocol, "missing port")
		}
		effectivePort = int(portArg)
	}

	entry, err := peerstore.NewEntry(addr.IP, effectivePort)
	if err != nil {
		return nil, newQueryError(krpc.ErrorProtocol, "peer address is not IPv4")
	}
	var ih peerstore.InfoHash
	copy(ih[:], infoHashBytes)
	n.peers.Add(ih, entry)

	var infoHashArr [20]byte
	copy(infoHashArr[:], infoHashBytes)
	n.emit(PeerFoundEvent{
		Endpoint: kademlia.Endpoint{IP: addr.IP, Port: effectivePort},
		InfoHash: infoHashArr,
	})

	return idResult(n.id), nil
}
