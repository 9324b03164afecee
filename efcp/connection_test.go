package efcp

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rinastack/efcp-core/dtsv"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// recordingUpper captures every Deliver/EnableWrite/DisableWrite call for
// assertions, guarded by its own lock since Connection may call upward
// from a timer goroutine.
type recordingUpper struct {
	mu        sync.Mutex
	delivered [][]byte
	enabled   int
	disabled  int
}

func (u *recordingUpper) Deliver(cepID uint32, sdu []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delivered = append(u.delivered, sdu)
}
func (u *recordingUpper) EnableWrite(cepID uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled++
}
func (u *recordingUpper) DisableWrite(cepID uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.disabled++
}

func (u *recordingUpper) deliveredCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.delivered)
}

func noRTXConfig() ConnectionConfig {
	cfg := DefaultConnectionConfig(1)
	cfg.DTP.DTCPPresent = false
	cfg.DTCP.FlowControl = false
	cfg.DTCP.RTXControl = false
	return cfg
}

func TestCreateConnectionAllocatesCEPIDAndIsIdempotentOnDestroy(t *testing.T) {
	c := NewContainer(testLogger())
	upper := &recordingUpper{}

	cepID, err := c.CreateConnection(noRTXConfig(), upper)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if cepID == 0 {
		t.Fatal("CreateConnection should never hand out cep-id 0")
	}

	if err := c.DestroyConnection(cepID); err != nil {
		t.Fatalf("first DestroyConnection: %v", err)
	}
	if err := c.DestroyConnection(cepID); err == nil {
		t.Fatal("second DestroyConnection on the same cep-id should fail, not double-free")
	}
}

func TestCreateConnectionHonorsExplicitCEPID(t *testing.T) {
	c := NewContainer(testLogger())
	upper := &recordingUpper{}

	cfg := noRTXConfig()
	cfg.SrcCEPID = 42
	cepID, err := c.CreateConnection(cfg, upper)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if cepID != 42 {
		t.Fatalf("cepID = %d, want 42 (caller-supplied id honored)", cepID)
	}

	if _, err := c.CreateConnection(cfg, upper); err == nil {
		t.Fatal("creating a second connection with the same explicit cep-id should fail")
	}
}

func TestWriteOnUnknownCEPIDFails(t *testing.T) {
	c := NewContainer(testLogger())
	if err := c.Write(999, []byte("x")); err == nil {
		t.Fatal("Write on an unknown cep-id should fail")
	}
}

func TestLoopbackRouteOutDeliversWithoutRMT(t *testing.T) {
	c := NewContainer(testLogger())
	upperA := &recordingUpper{}
	upperB := &recordingUpper{}

	cfgA := noRTXConfig()
	cfgA.SrcAddress, cfgA.DstAddress = 1, 1
	cepA, err := c.CreateConnection(cfgA, upperA)
	if err != nil {
		t.Fatalf("CreateConnection A: %v", err)
	}

	cfgB := noRTXConfig()
	cfgB.SrcAddress, cfgB.DstAddress = 1, 1
	cepB, err := c.CreateConnection(cfgB, upperB)
	if err != nil {
		t.Fatalf("CreateConnection B: %v", err)
	}

	connA, _ := c.Connection(cepA)
	connA.SetDstCEPID(cepB)

	if err := c.Write(cepA, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := upperB.deliveredCount(); got != 1 {
		t.Fatalf("upperB delivered count = %d, want 1 (loopback should short-circuit straight to the peer)", got)
	}
}

// blockingRMT holds Send until release is closed, letting a test pin a
// Write in flight while DestroyConnection races against it.
type blockingRMT struct {
	release chan struct{}
}

func (r blockingRMT) Send(dstAddress uint64, qosID uint32, pdu dtsv.PDU) error {
	<-r.release
	return nil
}

func TestDestroyConnectionDrainsPendingOpsBeforeReturning(t *testing.T) {
	c := NewContainer(testLogger())
	upper := &recordingUpper{}

	cfg := noRTXConfig()
	cfg.DstAddress = 2 // non-loopback, so Write actually reaches the bound RMT
	cepID, err := c.CreateConnection(cfg, upper)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	conn, _ := c.Connection(cepID)
	release := make(chan struct{})
	c.BindRMT(blockingRMT{release: release})

	writeDone := make(chan struct{})
	go func() {
		conn.Write([]byte("x"))
		close(writeDone)
	}()

	// give the write a moment to enter the pending-ops critical section
	// before we start destroying, so beginDestroy genuinely has to wait.
	time.Sleep(20 * time.Millisecond)

	destroyDone := make(chan struct{})
	go func() {
		c.DestroyConnection(cepID)
		close(destroyDone)
	}()

	select {
	case <-destroyDone:
		t.Fatal("DestroyConnection returned before the in-flight write drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-writeDone
	<-destroyDone
}

func TestUpdateConnectionMigratesUpperAndSlot(t *testing.T) {
	c := NewContainer(testLogger())
	upperOld := &recordingUpper{}
	upperNew := &recordingUpper{}

	cfg := noRTXConfig()
	cepID, err := c.CreateConnection(cfg, upperOld)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	if err := c.UpdateConnection(cepID, 7, upperNew); err != nil {
		t.Fatalf("UpdateConnection: %v", err)
	}
	if _, ok := c.Connection(cepID); ok {
		t.Fatal("old cep-id slot should be gone after migrating to a new one")
	}
	conn, ok := c.Connection(7)
	if !ok {
		t.Fatal("connection should be reachable under the new cep-id")
	}
	if conn.upper != upperNew {
		t.Fatal("connection's upper handle should be the new one after migrating")
	}
}
