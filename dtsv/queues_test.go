package dtsv

import (
	"testing"
	"time"
)

func TestClosedWindowQueueBound(t *testing.T) {
	q := NewClosedWindowQueue(2)
	if !q.Push(PDU{PCI: PCI{Seq: 1}}) {
		t.Fatal("first push should succeed")
	}
	if !q.Push(PDU{PCI: PCI{Seq: 2}}) {
		t.Fatal("second push should succeed")
	}
	if q.Push(PDU{PCI: PCI{Seq: 3}}) {
		t.Fatal("third push should be rejected: queue is at its bound")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
}

func TestClosedWindowQueueFIFO(t *testing.T) {
	q := NewClosedWindowQueue(4)
	q.Push(PDU{PCI: PCI{Seq: 1}})
	q.Push(PDU{PCI: PCI{Seq: 2}})
	head, ok := q.Pop()
	if !ok || head.PCI.Seq != 1 {
		t.Fatalf("Pop() = %+v, want seq 1", head)
	}
	head, ok = q.Pop()
	if !ok || head.PCI.Seq != 2 {
		t.Fatalf("Pop() = %+v, want seq 2", head)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop() on an empty queue should report ok=false")
	}
}

func TestClosedWindowQueueDrain(t *testing.T) {
	q := NewClosedWindowQueue(4)
	q.Push(PDU{PCI: PCI{Seq: 1}})
	q.Push(PDU{PCI: PCI{Seq: 2}})
	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d entries, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Drain, want 0", q.Len())
	}
}

func TestRetransmissionQueuePopAckedUpTo(t *testing.T) {
	q := NewRetransmissionQueue()
	now := time.Now()
	for _, s := range []uint64{1, 2, 3, 4, 5} {
		q.Push(RTXEntry{PDU: PDU{PCI: PCI{Seq: s}}, FirstSendTime: now})
	}
	popped := q.PopAckedUpTo(3)
	if len(popped) != 3 {
		t.Fatalf("popped %d entries, want 3", len(popped))
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d after pop, want 2", q.Len())
	}
	remaining := q.All()
	if remaining[0].PDU.PCI.Seq != 4 || remaining[1].PDU.PCI.Seq != 5 {
		t.Fatalf("remaining entries = %v, want [4 5]", remaining)
	}
}

func TestRetransmissionQueueRemoveAndGet(t *testing.T) {
	q := NewRetransmissionQueue()
	q.Push(RTXEntry{PDU: PDU{PCI: PCI{Seq: 1}}, FirstSendTime: time.Now()})
	q.Push(RTXEntry{PDU: PDU{PCI: PCI{Seq: 2}}, FirstSendTime: time.Now()})

	if _, ok := q.Get(2); !ok {
		t.Fatal("Get(2) should find the entry")
	}
	entry, ok := q.Remove(1)
	if !ok || entry.PDU.PCI.Seq != 1 {
		t.Fatalf("Remove(1) = %+v, %v", entry, ok)
	}
	if _, ok := q.Get(1); ok {
		t.Fatal("Get(1) should fail after Remove(1)")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestRetransmissionQueueUpdateBumpsRetries(t *testing.T) {
	q := NewRetransmissionQueue()
	entry := RTXEntry{PDU: PDU{PCI: PCI{Seq: 7}}, FirstSendTime: time.Now()}
	q.Push(entry)
	entry.Retries = 1
	q.Update(entry)
	got, ok := q.Get(7)
	if !ok || got.Retries != 1 {
		t.Fatalf("Get(7) = %+v, %v, want Retries=1", got, ok)
	}
}

func TestRetransmissionQueueAtLeastSeq(t *testing.T) {
	q := NewRetransmissionQueue()
	for _, s := range []uint64{1, 2, 3, 4} {
		q.Push(RTXEntry{PDU: PDU{PCI: PCI{Seq: s}}, FirstSendTime: time.Now()})
	}
	entries := q.AtLeastSeq(3)
	if len(entries) != 2 {
		t.Fatalf("AtLeastSeq(3) returned %d entries, want 2", len(entries))
	}
	if entries[0].PDU.PCI.Seq != 3 || entries[1].PDU.PCI.Seq != 4 {
		t.Fatalf("entries = %v, want seq [3 4]", entries)
	}
}
