package dtsv

import (
	"sync"
)

// ClosedWindowQueue is the CWQ: a FIFO of outbound PDUs held back
// because the flow-control window is closed, bounded by
// max_closed_winq_length.
type ClosedWindowQueue struct {
	mu      sync.Mutex
	entries []PDU
	bound   int
}

// NewClosedWindowQueue returns a CWQ bounded to maxLen entries.
func NewClosedWindowQueue(maxLen int) *ClosedWindowQueue {
	return &ClosedWindowQueue{bound: maxLen}
}

// Push appends pdu if the queue has room. It reports whether the PDU was
// accepted.
func (q *ClosedWindowQueue) Push(pdu PDU) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.bound {
		return false
	}
	q.entries = append(q.entries, pdu)
	return true
}

// Pop removes and returns the head PDU.
func (q *ClosedWindowQueue) Pop() (PDU, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return PDU{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Len reports current occupancy.
func (q *ClosedWindowQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Bound reports max_closed_winq_length.
func (q *ClosedWindowQueue) Bound() int { return q.bound }

// Drain empties the queue, returning discarded entries. Used on
// sender-inactivity reset.
func (q *ClosedWindowQueue) Drain() []PDU {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}

// RetransmissionQueue is the RTXQ: sequence-number-ordered entries
// {pdu, first_send_time, retries}, strictly increasing in sequence
// number, each destroyed on positive ACK and regenerated on NACK/timeout.
// Ordered by construction — entries are appended in increasing sequence
// order and spliced out by index.
type RetransmissionQueue struct {
	mu      sync.Mutex
	entries []RTXEntry
}

// NewRetransmissionQueue returns an empty RTXQ.
func NewRetransmissionQueue() *RetransmissionQueue {
	return &RetransmissionQueue{}
}

// Push appends entry. Callers must push in increasing sequence-number
// order (true of the DTP outbound path, which assigns seq from a
// monotonic counter).
func (q *RetransmissionQueue) Push(entry RTXEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
}

// PopAckedUpTo removes and returns every entry with Seq <= ackSeq.
func (q *RetransmissionQueue) PopAckedUpTo(ackSeq uint64) []RTXEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := 0
	for idx < len(q.entries) && q.entries[idx].PDU.PCI.Seq <= ackSeq {
		idx++
	}
	popped := append([]RTXEntry(nil), q.entries[:idx]...)
	q.entries = q.entries[idx:]
	return popped
}

// Remove deletes the single entry with the given sequence number, if
// present, and reports whether it was found.
func (q *RetransmissionQueue) Remove(seq uint64) (RTXEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.PDU.PCI.Seq == seq {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return RTXEntry{}, false
}

// Get returns a copy of the entry with the given sequence number.
func (q *RetransmissionQueue) Get(seq uint64) (RTXEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.PDU.PCI.Seq == seq {
			return e, true
		}
	}
	return RTXEntry{}, false
}

// Update replaces the entry at seq, e.g. after bumping Retries and
// resending.
func (q *RetransmissionQueue) Update(entry RTXEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.PDU.PCI.Seq == entry.PDU.PCI.Seq {
			q.entries[i] = entry
			return
		}
	}
}

// AtLeastSeq returns a copy of every entry with Seq >= seq, in order, for
// NACK handling.
func (q *RetransmissionQueue) AtLeastSeq(seq uint64) []RTXEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []RTXEntry
	for _, e := range q.entries {
		if e.PDU.PCI.Seq >= seq {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every entry, in sequence order, for RTX-timer
// scans.
func (q *RetransmissionQueue) All() []RTXEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]RTXEntry(nil), q.entries...)
}

// Len reports current occupancy.
func (q *RetransmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain empties the queue, returning discarded entries.
func (q *RetransmissionQueue) Drain() []RTXEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}
