package peerstore

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSuppressesDuplicates(t *testing.T) {
	s := NewStore(0)
	var ih InfoHash
	e, err := NewEntry(net.ParseIP("1.2.3.4"), 6881)
	require.NoError(t, err)

	s.Add(ih, e)
	s.Add(ih, e)
	assert.Equal(t, 1, s.Count(ih))
}

func TestGetPeersReturnsCompactEntries(t *testing.T) {
	s := NewStore(0)
	var ih InfoHash
	e1, _ := NewEntry(net.ParseIP("1.2.3.4"), 6881)
	e2, _ := NewEntry(net.ParseIP("5.6.7.8"), 6881)
	s.Add(ih, e1)
	s.Add(ih, e2)

	got := s.Get(ih)
	assert.Len(t, got, 2)
	assert.Contains(t, got, e1)
	assert.Contains(t, got, e2)
}

func TestRemoveMatchingEntry(t *testing.T) {
	s := NewStore(0)
	var ih InfoHash
	e, _ := NewEntry(net.ParseIP("1.2.3.4"), 6881)
	s.Add(ih, e)
	s.Remove(ih, e)
	assert.Equal(t, 0, s.Count(ih))
}

func TestEvictDropsStaleEntries(t *testing.T) {
	s := NewStore(time.Hour)
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	var ih InfoHash
	e, _ := NewEntry(net.ParseIP("1.2.3.4"), 6881)
	s.Add(ih, e)

	fakeNow = fakeNow.Add(2 * time.Hour)
	removed := s.Evict()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.Count(ih))
}

func TestEvictDisabledWhenMaxAgeZero(t *testing.T) {
	s := NewStore(0)
	var ih InfoHash
	e, _ := NewEntry(net.ParseIP("1.2.3.4"), 6881)
	s.Add(ih, e)
	assert.Equal(t, 0, s.Evict())
	assert.Equal(t, 1, s.Count(ih))
}
