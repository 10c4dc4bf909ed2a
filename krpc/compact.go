package krpc

import (
	"encoding/binary"
	"net"

	"github.com/cowtools/mainlinedht/kademlia"
)

// compactNodeLength is the width of one packed node-info record: a 20-byte
// NodeID, 4-byte IPv4 address, and 2-byte big-endian port.
const compactNodeLength = 26

// EncodeCompactNodes packs contacts into the concatenated 26-byte-record
// wire form used by find_node and get_peers responses.
func EncodeCompactNodes(contacts []kademlia.Contact) []byte {
	buf := make([]byte, 0, len(contacts)*compactNodeLength)
	for _, c := range contacts {
		v4 := c.Endpoint.IP.To4()
		if v4 == nil {
			continue
		}
		buf = append(buf, c.ID[:]...)
		buf = append(buf, v4...)
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], uint16(c.Endpoint.Port))
		buf = append(buf, port[:]...)
	}
	return buf
}

// DecodeCompactNodes splits data on 26-byte boundaries. A trailing partial
// record is discarded (best-effort), matching the wire's tolerance for
// truncated relay output.
func DecodeCompactNodes(data []byte) []kademlia.Contact {
	n := len(data) / compactNodeLength
	out := make([]kademlia.Contact, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*compactNodeLength : (i+1)*compactNodeLength]
		id, err := kademlia.NodeIDFromBytes(rec[0:20])
		if err != nil {
			continue
		}
		ip := net.IPv4(rec[20], rec[21], rec[22], rec[23])
		port := binary.BigEndian.Uint16(rec[24:26])
		out = append(out, kademlia.Contact{
			ID:       id,
			Endpoint: kademlia.Endpoint{IP: ip, Port: int(port)},
		})
	}
	return out
}
