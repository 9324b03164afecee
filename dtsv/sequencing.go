package dtsv

import (
	"sort"
	"sync"
)

// SequencingQueue holds out-of-order inbound PDUs sorted by sequence
// number, each tagged with an arrival timestamp. A slice backs it rather
// than a linked list; a doubly-linked list (or, at very high fan-out, a
// skip-list) is a drop-in replacement since callers only ever touch the
// head or do a sorted insert.
type SequencingQueue struct {
	mu      sync.Mutex
	entries []SequencingEntry
}

// NewSequencingQueue returns an empty queue.
func NewSequencingQueue() *SequencingQueue {
	return &SequencingQueue{}
}

// Insert adds entry in sorted position. It returns false (a no-op) if an
// entry with the same sequence number is already queued, preserving the
// "no duplicate sequence numbers" invariant.
func (q *SequencingQueue) Insert(entry SequencingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := entry.PDU.PCI.Seq
	idx := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].PDU.PCI.Seq >= seq
	})
	if idx < len(q.entries) && q.entries[idx].PDU.PCI.Seq == seq {
		return false
	}
	q.entries = append(q.entries, SequencingEntry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry
	return true
}

// PeekHead returns the lowest-sequence entry without removing it.
func (q *SequencingQueue) PeekHead() (SequencingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return SequencingEntry{}, false
	}
	return q.entries[0], true
}

// PopHead removes and returns the lowest-sequence entry.
func (q *SequencingQueue) PopHead() (SequencingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return SequencingEntry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Len reports the current queue occupancy.
func (q *SequencingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DropOlderThanSeq removes and returns every entry whose sequence number
// is <= seq, i.e. the entries at or behind a left window edge of seq.
// The DTP engine does not call it.
func (q *SequencingQueue) DropOlderThanSeq(seq uint64) []SequencingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].PDU.PCI.Seq > seq
	})
	dropped := append([]SequencingEntry(nil), q.entries[:idx]...)
	q.entries = q.entries[idx:]
	return dropped
}

// Reset empties the queue, returning the number of entries discarded. Used
// by the receiver-inactivity handler.
func (q *SequencingQueue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n
}
