package kademlia

import (
	"container/list"
	"sort"
	"sync"
)

// entry is a bucket-resident contact tagged with insertion order, used to
// break ties when two contacts are equidistant from a query target.
type entry struct {
	contact Contact
	seq     uint64
}

// node is one level of the routing tree: either a leaf (a k-bucket) or a
// split point with two children covering the 0- and 1-prefixed halves of
// the range the parent covered.
type node struct {
	// leaf fields
	bucket *list.List // of *entry, front = least-recently-seen

	// split fields
	zero, one *node
}

func newLeaf() *node {
	return &node{bucket: list.New()}
}

func (n *node) isLeaf() bool {
	return n.bucket != nil
}

// RoutingTable is the Kademlia k-bucket tree anchored at a local NodeID.
type RoutingTable struct {
	mu      sync.Mutex
	local   NodeID
	root    *node
	nextSeq uint64
}

// NewRoutingTable constructs an empty table anchored at local.
func NewRoutingTable(local NodeID) *RoutingTable {
	return &RoutingTable{local: local, root: newLeaf()}
}

// Add inserts or refreshes a contact. The local ID is never stored.
func (t *RoutingTable) Add(c Contact) {
	if c.ID == t.local {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addAt(t.root, 0, c, true)
}

func (t *RoutingTable) addAt(n *node, bitIndex int, c Contact, coversLocal bool) {
	if !n.isLeaf() {
		if bitAt(c.ID, bitIndex) == 0 {
			t.addAt(n.zero, bitIndex+1, c, coversLocal && bitAt(t.local, bitIndex) == 0)
		} else {
			t.addAt(n.one, bitIndex+1, c, coversLocal && bitAt(t.local, bitIndex) == 1)
		}
		return
	}

	if e := findEntry(n.bucket, c.ID); e != nil {
		e.Value.(*entry).contact = c
		n.bucket.MoveToBack(e)
		return
	}

	if n.bucket.Len() < K {
		t.nextSeq++
		n.bucket.PushBack(&entry{contact: c, seq: t.nextSeq})
		return
	}

	if !coversLocal {
		// Bucket is full and does not cover the local prefix: drop the newcomer.
		return
	}

	t.split(n, bitIndex)
	t.addAt(n, bitIndex, c, coversLocal)
}

// split turns a full leaf into a two-way branch along bitIndex, redistributing
// its current contacts between the zero- and one-prefixed children.
func (t *RoutingTable) split(n *node, bitIndex int) {
	zero, one := newLeaf(), newLeaf()
	for e := n.bucket.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if bitAt(ent.contact.ID, bitIndex) == 0 {
			zero.bucket.PushBack(ent)
		} else {
			one.bucket.PushBack(ent)
		}
	}
	n.bucket = nil
	n.zero = zero
	n.one = one
}

func findEntry(l *list.List, id NodeID) *list.Element {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).contact.ID == id {
			return e
		}
	}
	return nil
}

// Remove deletes the contact with the given ID, if present.
func (t *RoutingTable) Remove(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeAt(t.root, 0, id)
}

func (t *RoutingTable) removeAt(n *node, bitIndex int, id NodeID) {
	if !n.isLeaf() {
		if bitAt(id, bitIndex) == 0 {
			t.removeAt(n.zero, bitIndex+1, id)
		} else {
			t.removeAt(n.one, bitIndex+1, id)
		}
		return
	}
	if e := findEntry(n.bucket, id); e != nil {
		n.bucket.Remove(e)
	}
}

// Get returns the exact contact for id, if known.
func (t *RoutingTable) Get(id NodeID) (Contact, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getAt(t.root, 0, id)
}

func (t *RoutingTable) getAt(n *node, bitIndex int, id NodeID) (Contact, bool) {
	if !n.isLeaf() {
		if bitAt(id, bitIndex) == 0 {
			return t.getAt(n.zero, bitIndex+1, id)
		}
		return t.getAt(n.one, bitIndex+1, id)
	}
	if e := findEntry(n.bucket, id); e != nil {
		return e.Value.(*entry).contact, true
	}
	return Contact{}, false
}

// Closest returns up to count contacts ordered by ascending XOR distance to
// target, breaking ties by insertion order (earlier-inserted first).
func (t *RoutingTable) Closest(target NodeID, count int) []Contact {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]*entry, 0, count*2)
	collect(t.root, &all)

	sort.Slice(all, func(i, j int) bool {
		di := XOR(target, all[i].contact.ID)
		dj := XOR(target, all[j].contact.ID)
		if di == dj {
			return all[i].seq < all[j].seq
		}
		return di.Less(dj)
	})

	if count > len(all) {
		count = len(all)
	}
	out := make([]Contact, count)
	for i := 0; i < count; i++ {
		out[i] = all[i].contact
	}
	return out
}

func collect(n *node, out *[]*entry) {
	if n.isLeaf() {
		for e := n.bucket.Front(); e != nil; e = e.Next() {
			*out = append(*out, e.Value.(*entry))
		}
		return
	}
	collect(n.zero, out)
	collect(n.one, out)
}

// Count returns the total number of contacts held across all buckets.
func (t *RoutingTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []*entry
	collect(t.root, &all)
	return len(all)
}
