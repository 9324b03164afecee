package dtp

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtsv"
	"github.com/rinastack/efcp-core/internal/timerq"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// collector records delivered SDUs and sent PDUs in arrival order, safe
// for concurrent use since aTimerFire/senderInactivityFire run on the
// engine's timer queue goroutine.
type collector struct {
	mu        sync.Mutex
	delivered [][]byte
	sent      []dtsv.PDU
}

func (c *collector) deliver(sdu []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), sdu...)
	c.delivered = append(c.delivered, cp)
}

func (c *collector) send(pdu dtsv.PDU) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, pdu)
	return nil
}

func (c *collector) deliveredStrings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.delivered))
	for i, d := range c.delivered {
		out[i] = string(d)
	}
	return out
}

func (c *collector) deliveredLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func newTestEngine(cfg Config) (*Engine, *collector, *timerq.Queue) {
	sv := dtsv.NewSharedState(1500, 1452, 0, cfg.InitialATimer, 200*time.Millisecond, 3)
	cwq := dtsv.NewClosedWindowQueue(8)
	rtx := dtsv.NewRetransmissionQueue()
	timers := timerq.New()
	col := &collector{}
	up := Upcalls{
		Deliver:      col.deliver,
		Send:         col.send,
		EnableWrite:  func() {},
		DisableWrite: func() {},
	}
	e := NewEngine(cfg, sv, cwq, rtx, false, up, nil, timers, testLogger())
	return e, col, timers
}

// TestNoLossOrderedFlowDeliversImmediately: with A=0 and 4 PDUs
// arriving in order, each should be
// delivered upward the instant it's received, with no sequencing queue
// involvement.
func TestNoLossOrderedFlowDeliversImmediately(t *testing.T) {
	cfg := DefaultConfig()
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	for i, sdu := range [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")} {
		e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: uint64(i + 1)}, Payload: sdu})
	}

	got := col.deliveredStrings()
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("delivered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestSingleReorderWithinADeliversInSequenceOrder: with A=50ms,
// max_sdu_gap=0, and PDUs arriving [1,3,2,4], PDU 3
// should be held in the sequencing queue until 2 arrives, then both 2
// and 3 deliver back to back, followed by 4.
func TestSingleReorderWithinADeliversInSequenceOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialATimer = 50 * time.Millisecond
	cfg.MaxSDUGap = 0
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 1}, Payload: []byte("p1")})
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 3}, Payload: []byte("p3")})

	if got := col.deliveredLen(); got != 1 {
		t.Fatalf("after [1,3], delivered count = %d, want 1 (p3 must wait for p2)", got)
	}

	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 2}, Payload: []byte("p2")})
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 4}, Payload: []byte("p4")})

	got := col.deliveredStrings()
	want := []string{"p1", "p2", "p3", "p4"}
	if len(got) != len(want) {
		t.Fatalf("delivered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestATimerExpirySkipsAnUnrecoverableGap checks that once A elapses
// without the missing PDU arriving and no DTCP is present to ask for a
// retransmission, the A-timer callback gives up and delivers what it has,
// advancing LWE past the gap.
func TestATimerExpirySkipsAnUnrecoverableGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialATimer = 30 * time.Millisecond
	cfg.MaxSDUGap = 0
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 1}, Payload: []byte("p1")})
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 3}, Payload: []byte("p3")})

	time.Sleep(200 * time.Millisecond)

	got := col.deliveredStrings()
	if len(got) != 2 || got[0] != "p1" || got[1] != "p3" {
		t.Fatalf("delivered = %v, want [p1 p3] (p3 delivered once A expires with no recovery path)", got)
	}
	if dropped := e.DroppedPDUs(); dropped != 1 {
		t.Fatalf("dropped_pdus = %d, want 1", dropped)
	}
}

// TestWriteAssignsMonotonicSequenceNumbersAndSendsInOrder exercises the
// outbound path with DTCP absent: every Write should hand a PDU straight
// to Send with a strictly increasing sequence number.
func TestWriteAssignsMonotonicSequenceNumbersAndSendsInOrder(t *testing.T) {
	cfg := DefaultConfig()
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	for _, sdu := range [][]byte{[]byte("x"), []byte("y"), []byte("z")} {
		if err := e.Write(sdu); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.sent) != 3 {
		t.Fatalf("sent count = %d, want 3", len(col.sent))
	}
	for i, pdu := range col.sent {
		if pdu.PCI.Seq != uint64(i+1) {
			t.Fatalf("sent[%d].Seq = %d, want %d", i, pdu.PCI.Seq, i+1)
		}
	}
	if col.sent[0].PCI.Flags&dtsv.FlagDRF == 0 {
		t.Fatal("first PDU of a run should carry FlagDRF")
	}
	for i := 1; i < len(col.sent); i++ {
		if col.sent[i].PCI.Flags&dtsv.FlagDRF != 0 {
			t.Fatalf("sent[%d] should not carry FlagDRF", i)
		}
	}
}

// fakeNotifier stands in for a DTCP engine, reporting a closed window
// for every sequence number above openUpTo and recording fast-path send
// notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	openUpTo uint64
	sentSeqs []uint64
}

func (n *fakeNotifier) IsWindowClosed(seq uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return seq > n.openUpTo
}
func (n *fakeNotifier) OnDataRunFlag()               {}
func (n *fakeNotifier) RequestRetransmission(uint64) {}
func (n *fakeNotifier) ObserveInbound(dtsv.PCI)      {}
func (n *fakeNotifier) OnDataPDUSent(seq uint64) {
	n.mu.Lock()
	n.sentSeqs = append(n.sentSeqs, seq)
	n.mu.Unlock()
}

// TestWriteClosedWindowParksOnCWQWithoutRTXQEntry checks that a PDU held
// by flow control lands on the CWQ only: its RTXQ entry is created later
// by the drain that sends it, never at write time, so a PDU is in
// exactly one of sent-but-unacked or closed-window-held.
func TestWriteClosedWindowParksOnCWQWithoutRTXQEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DTCPPresent = true
	sv := dtsv.NewSharedState(1500, 1452, 0, 0, 200*time.Millisecond, 3)
	cwq := dtsv.NewClosedWindowQueue(8)
	rtx := dtsv.NewRetransmissionQueue()
	timers := timerq.New()
	defer timers.Close()
	col := &collector{}
	notifier := &fakeNotifier{openUpTo: 2}
	up := Upcalls{
		Deliver:      col.deliver,
		Send:         col.send,
		EnableWrite:  func() {},
		DisableWrite: func() {},
	}
	e := NewEngine(cfg, sv, cwq, rtx, true, up, notifier, timers, testLogger())

	for i := 0; i < 4; i++ {
		if err := e.Write([]byte{byte('a' + i)}); err != nil {
			t.Fatalf("Write %d: %v", i+1, err)
		}
	}

	col.mu.Lock()
	sent := len(col.sent)
	col.mu.Unlock()
	if sent != 2 {
		t.Fatalf("sent count = %d, want 2 (window open through seq 2)", sent)
	}
	if cwq.Len() != 2 {
		t.Fatalf("CWQ length = %d, want 2 (seq 3 and 4 held)", cwq.Len())
	}
	if rtx.Len() != 2 {
		t.Fatalf("RTXQ length = %d, want 2 (only the sent PDUs, never the held ones)", rtx.Len())
	}
	notifier.mu.Lock()
	notified := append([]uint64(nil), notifier.sentSeqs...)
	notifier.mu.Unlock()
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("OnDataPDUSent seqs = %v, want [1 2]", notified)
	}
}

// TestDuplicatePDUIsDroppedNotRedelivered checks the already-delivered
// short circuit: a PDU at or below the current LWE is dropped rather
// than delivered a second time.
func TestDuplicatePDUIsDroppedNotRedelivered(t *testing.T) {
	cfg := DefaultConfig()
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 1}, Payload: []byte("p1")})
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 1}, Payload: []byte("p1-dup")})

	if got := col.deliveredLen(); got != 1 {
		t.Fatalf("delivered count = %d, want 1 (duplicate must be dropped)", got)
	}
	if dropped := e.DroppedPDUs(); dropped != 1 {
		t.Fatalf("dropped_pdus = %d, want 1", dropped)
	}
}

// TestDRFResetsSequencingState checks that a PDU flagged DRF resets LWE
// and the sequencing queue, delivering immediately regardless of any
// pending reordered entries from the previous run.
func TestDRFResetsSequencingState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialATimer = 50 * time.Millisecond
	e, col, timers := newTestEngine(cfg)
	defer timers.Close()

	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 1}, Payload: []byte("p1")})
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 5, Flags: dtsv.FlagDRF}, Payload: []byte("new-run")})

	got := col.deliveredStrings()
	want := []string{"p1", "new-run"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("delivered = %v, want %v", got, want)
	}

	// the sequencing queue should be empty post-reset: a PDU right after
	// the DRF's seq delivers immediately rather than waiting on stale state.
	e.Receive(dtsv.PDU{PCI: dtsv.PCI{Seq: 6}, Payload: []byte("p6")})
	got = col.deliveredStrings()
	if len(got) != 3 || got[2] != "p6" {
		t.Fatalf("delivered after DRF+next = %v, want [... p6]", got)
	}
}
