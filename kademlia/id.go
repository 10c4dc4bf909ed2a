// Package kademlia implements the 160-bit node-identifier space, XOR
// distance metric, and the k-bucket routing table used by the DHT.
package kademlia

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

// IDLength is the width of a NodeID in bytes (160 bits).
const IDLength = 20

// K is the maximum number of contacts held in a single bucket.
const K = 8

// NodeID is a 160-bit DHT participant identifier.
type NodeID [IDLength]byte

// NewNodeID returns a NodeID filled with cryptographically random bits.
func NewNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return id, errors.Wrap(err, "kademlia: generate node id")
	}
	return id, nil
}

// NodeIDFromBytes copies b into a NodeID, failing if b is not IDLength bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDLength {
		return id, errors.Errorf("kademlia: node id must be %d bytes, got %d", IDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String renders the NodeID as hex, for logging.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero identifier.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Distance is the XOR of two NodeIDs, interpreted as a 160-bit unsigned
// integer ordered most-significant byte first.
type Distance [IDLength]byte

// XOR computes the distance between a and b.
func XOR(a, b NodeID) Distance {
	var d Distance
	for i := 0; i < IDLength; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether d is strictly closer (smaller) than other.
func (d Distance) Less(other Distance) bool {
	for i := 0; i < IDLength; i++ {
		if d[i] != other[i] {
			return d[i] < other[i]
		}
	}
	return false
}

// bitAt returns the value (0 or 1) of the bit at the given index, where
// index 0 is the most-significant bit of the identifier.
func bitAt(id NodeID, index int) int {
	byteIndex := index / 8
	bitIndex := 7 - uint(index%8)
	return int((id[byteIndex] >> bitIndex) & 1)
}
