package dht

import (
	"net"

	"github.com/pkg/errors"

	"github.com/cowtools/mainlinedht/bencode"
	"github.com/cowtools/mainlinedht/kademlia"
	"github.com/cowtools/mainlinedht/krpc"
)

const maxDatagramSize = 4096

// receiveLoop is the sole reader of the UDP socket, matching the
// single-owner shared-resource policy in spec.md §5.
func (n *Node) receiveLoop() {
	defer n.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		nRead, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if n.isClosed() {
				return
			}
			n.log.WithError(err).Debug("udp read error")
			continue
		}
		data := make([]byte, nRead)
		copy(data, buf[:nRead])
		n.handleDatagram(addr, data)
	}
}

func (n *Node) handleDatagram(addr *net.UDPAddr, data []byte) {
	msg, err := krpc.Decode(data)
	if err != nil {
		// Malformed input from an untrusted sender: silent drop.
		return
	}

	n.observeSender(addr, msg)

	switch msg.Y {
	case krpc.TypeQuery:
		n.handleQuery(addr, msg)
	case krpc.TypeResponse, krpc.TypeError:
		n.handleReplyOrError(addr, msg, data)
	default:
		n.log.WithField("y", msg.Y).Warn("dropping message with unrecognized y")
	}
}

// observeSender adds the sender to the routing table whenever the message
// advertises a NodeID, per spec.md §4.5's "known extension".
func (n *Node) observeSender(addr *net.UDPAddr, msg krpc.Message) {
	var idBytes []byte
	switch msg.Y {
	case krpc.TypeQuery:
		idBytes, _ = krpc.DictString(msg.A, "id")
	case krpc.TypeResponse:
		idBytes, _ = krpc.DictString(msg.R, "id")
	}
	if idBytes == nil {
		return
	}
	id, err := kademlia.NodeIDFromBytes(idBytes)
	if err != nil {
		return
	}
	ep := kademlia.Endpoint{IP: addr.IP, Port: addr.Port}
	n.table.Add(kademlia.Contact{ID: id, Endpoint: ep})
	n.emit(NodeSeenEvent{Endpoint: ep, ID: id})
}

func (n *Node) handleReplyOrError(addr *net.UDPAddr, msg krpc.Message, raw []byte) {
	matched := n.txs.Resolve(addr, []byte(msg.T), raw, nil)
	if matched {
		return
	}
	if msg.Y == krpc.TypeError {
		n.emit(WarningEvent{Err: errors.Wrapf(ErrUnexpectedMessage, "unmatched error from %s: %d %s", addr, msg.ErrCode, msg.ErrMsg)})
		return
	}
	// Unmatched response: reply with a generic error, per spec.md §4.5/§7.
	n.sendError(addr, msg.T, krpc.ErrorGeneric, "unexpected message")
}

// send serializes and writes msg to addr, dropping silently on a bad port
// or a transport failure (the remote will simply not reply).
func (n *Node) send(addr *net.UDPAddr, msg krpc.Message) {
	if addr.Port <= 0 || addr.Port >= 65535 {
		return
	}
	payload := krpc.Encode(msg)
	if _, err := n.conn.WriteToUDP(payload, addr); err != nil {
		n.log.WithError(err).Debug("udp write failed")
	}
}

func (n *Node) sendResult(addr *net.UDPAddr, tid string, result map[string]bencode.Value) {
	n.send(addr, krpc.Message{T: tid, Y: krpc.TypeResponse, R: result})
}

func (n *Node) sendError(addr *net.UDPAddr, tid string, code int, msg string) {
	n.send(addr, krpc.Message{T: tid, Y: krpc.TypeError, ErrCode: code, ErrMsg: msg})
}

// sendQuery allocates a transaction, writes the query, and arranges for cb
// to be invoked at most once with the decoded result dict, or an error
// (protocol-level error reply, or transaction.ErrTimeout).
func (n *Node) sendQuery(addr *net.UDPAddr, verb string, args map[string]bencode.Value, cb func(result map[string]bencode.Value, err error)) error {
	if addr.Port <= 0 || addr.Port >= 65535 {
		return errors.Errorf("dht: refusing to query invalid port %d", addr.Port)
	}
	tidBytes, err := n.txs.Register(addr, func(reply []byte, rerr error) {
		if rerr != nil {
			cb(nil, rerr)
			return
		}
		m, derr := krpc.Decode(reply)
		if derr != nil {
			cb(nil, derr)
			return
		}
		if m.Y == krpc.TypeError {
			cb(nil, errors.Errorf("dht: remote error %d: %s", m.ErrCode, m.ErrMsg))
			return
		}
		cb(m.R, nil)
	})
	if err != nil {
		return err
	}
	n.send(addr, krpc.Message{T: string(tidBytes), Y: krpc.TypeQuery, Q: verb, A: args})
	return nil
}

func idResult(id kademlia.NodeID) map[string]bencode.Value {
	return map[string]bencode.Value{"id": bencode.String(id[:])}
}
