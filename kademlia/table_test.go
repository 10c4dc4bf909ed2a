package kademlia

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idFromHex(t *testing.T, h string) NodeID {
	t.Helper()
	b, err := hex.DecodeString(h)
	require.NoError(t, err)
	id, err := NodeIDFromBytes(b)
	require.NoError(t, err)
	return id
}

func contactAt(id NodeID, port int) Contact {
	return Contact{ID: id, Endpoint: Endpoint{IP: net.ParseIP("127.0.0.1"), Port: port}}
}

func TestDistanceSymmetricAndIdentity(t *testing.T) {
	a, b := idFromHex(t, hex40("aa")), idFromHex(t, hex40("bb"))
	assert.Equal(t, XOR(a, b), XOR(b, a))
	assert.Equal(t, Distance{}, XOR(a, a))
	assert.NotEqual(t, a, b)
}

func TestRoutingTableNoDuplicatesAndLocalExcluded(t *testing.T) {
	local := idFromHex(t, hex40("00"))
	rt := NewRoutingTable(local)

	rt.Add(Contact{ID: local, Endpoint: Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 1}})
	assert.Equal(t, 0, rt.Count(), "local ID must never be stored")

	other := idFromHex(t, hex40("01"))
	rt.Add(contactAt(other, 2000))
	rt.Add(contactAt(other, 3000))
	assert.Equal(t, 1, rt.Count(), "reinsertion must refresh, not duplicate")

	c, ok := rt.Get(other)
	require.True(t, ok)
	assert.Equal(t, 3000, c.Endpoint.Port)
}

func TestRoutingTableBucketCapacityAndEviction(t *testing.T) {
	local := idFromHex(t, hex40("00"))
	rt := NewRoutingTable(local)

	// All share the top byte 0xFF, far from local: once the root bucket fills
	// it splits once, they all land in the 1-prefixed half, which does not
	// cover the local prefix, so it never splits again and drops newcomers.
	for i := 0; i < K+4; i++ {
		var id NodeID
		id[0] = 0xFF
		id[19] = byte(i)
		rt.Add(contactAt(id, 10000+i))
	}
	assert.LessOrEqual(t, rt.Count(), K)
}

func TestRoutingTableClosestOrdering(t *testing.T) {
	local := idFromHex(t, hex40("00"))
	rt := NewRoutingTable(local)

	ids := []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "0a"}
	for _, suf := range ids {
		id := idFromHex(t, hex40(suf))
		rt.Add(contactAt(id, 20000))
	}

	target := idFromHex(t, hex40("05"))
	closest := rt.Closest(target, 8)
	require.Len(t, closest, 8)

	// Ascending true XOR distance from 0x05 over {01..0a}: 05(0) 04(1) 07(2)
	// 06(3) 01(4) 03(6) 02(7) 09(12) 08(13) 0a(15); top 8 excludes 08 and 0a.
	expected := []string{"05", "04", "07", "06", "01", "03", "02", "09"}
	for i, suf := range expected {
		want := idFromHex(t, hex40(suf))
		assert.Equal(t, want, closest[i].ID, "position %d", i)
	}
}

func TestRoutingTableRemove(t *testing.T) {
	local := idFromHex(t, hex40("00"))
	rt := NewRoutingTable(local)
	other := idFromHex(t, hex40("01"))
	rt.Add(contactAt(other, 1))
	rt.Remove(other)
	_, ok := rt.Get(other)
	assert.False(t, ok)
	rt.Remove(other) // no-op on unknown id
}

// hex40 left-pads a short hex suffix to a full 40-char (20-byte) node-id string.
func hex40(suffix string) string {
	zeros := "0000000000000000000000000000000000000000"
	return zeros[:40-len(suffix)] + suffix
}
