package krpc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowtools/mainlinedht/bencode"
	"github.com/cowtools/mainlinedht/kademlia"
)

func TestEncodeDecodeQueryRoundTrip(t *testing.T) {
	m := Message{
		T: "aa",
		Y: TypeQuery,
		Q: "ping",
		A: map[string]bencode.Value{"id": bencode.StringFrom("01234567890123456789")},
	}
	decoded, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m.T, decoded.T)
	assert.Equal(t, m.Y, decoded.Y)
	assert.Equal(t, m.Q, decoded.Q)
	assert.Equal(t, "01234567890123456789", string(decoded.A["id"].Str))
}

func TestEncodeDecodeErrorRoundTrip(t *testing.T) {
	m := Message{T: "bb", Y: TypeError, ErrCode: ErrorProtocol, ErrMsg: "boom"}
	decoded, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, ErrorProtocol, decoded.ErrCode)
	assert.Equal(t, "boom", decoded.ErrMsg)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("not bencode"))
	assert.Error(t, err)

	_, err = Decode(bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"t": bencode.StringFrom("aa"),
	})))
	assert.Error(t, err, "missing y")
}

func TestCompactNodesRoundTrip(t *testing.T) {
	var id1, id2 kademlia.NodeID
	id1[0] = 1
	id2[0] = 2
	contacts := []kademlia.Contact{
		{ID: id1, Endpoint: kademlia.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 6881}},
		{ID: id2, Endpoint: kademlia.Endpoint{IP: net.ParseIP("5.6.7.8"), Port: 6882}},
	}
	packed := EncodeCompactNodes(contacts)
	assert.Len(t, packed, 26*2)

	unpacked := DecodeCompactNodes(packed)
	require.Len(t, unpacked, 2)
	assert.Equal(t, contacts[0].ID, unpacked[0].ID)
	assert.True(t, contacts[0].Endpoint.IP.Equal(unpacked[0].Endpoint.IP))
	assert.Equal(t, contacts[0].Endpoint.Port, unpacked[0].Endpoint.Port)
}

func TestCompactNodesDiscardsTrailingPartialRecord(t *testing.T) {
	var id kademlia.NodeID
	id[0] = 9
	full := EncodeCompactNodes([]kademlia.Contact{
		{ID: id, Endpoint: kademlia.Endpoint{IP: net.ParseIP("1.1.1.1"), Port: 1}},
	})
	truncated := append(full, []byte{1, 2, 3}...)
	unpacked := DecodeCompactNodes(truncated)
	assert.Len(t, unpacked, 1)
}
