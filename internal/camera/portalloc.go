package camera

import (
	"errors"
	"sync"
)

// ErrPortsExhausted is returned when a PortAllocator's range is fully in
// use (§4.11: "exhaustion is an error").
var ErrPortsExhausted = errors.New("camera: no free ports in range")

// PortAllocator hands out ports from a fixed inclusive range. One instance
// backs the MJPEG proxy's [8181, 8191]; a second backs the RTSP sibling's
// [9000, 9009].
type PortAllocator struct {
	mu    sync.Mutex
	lo    int
	hi    int
	inUse map[int]bool
}

func NewPortAllocator(lo, hi int) *PortAllocator {
	return &PortAllocator{lo: lo, hi: hi, inUse: make(map[int]bool)}
}

func (p *PortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.lo; port <= p.hi; port++ {
		if !p.inUse[port] {
			p.inUse[port] = true
			return port, nil
		}
	}
	return 0, ErrPortsExhausted
}

func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}
