package efcp

import "sync"

// cepIDPool allocates unsigned CEP-ids from a monotonic counter, with ids
// returned to a free pool only after the instance that held them has
// fully drained and been destroyed. Id zero is reserved as "invalid" and
// is never handed out.
type cepIDPool struct {
	mu    sync.Mutex
	next  uint32
	inUse map[uint32]struct{}
	free  []uint32
}

func newCEPIDPool() *cepIDPool {
	return &cepIDPool{next: 1, inUse: make(map[uint32]struct{})}
}

// Allocate returns the next unused id, preferring recycled ids over the
// monotonic counter once any have been released.
func (p *cepIDPool) Allocate() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var id uint32
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		id = p.next
		p.next++
	}
	p.inUse[id] = struct{}{}
	return id
}

// Release returns id to the free pool. Callers must only call this after
// the owning connection has fully destroyed (no in-flight pending ops),
// so a released id is never reused while a reference to its old
// connection is still live.
func (p *cepIDPool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inUse[id]; !ok {
		return
	}
	delete(p.inUse, id)
	p.free = append(p.free, id)
}
