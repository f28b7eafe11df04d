// Package camera implements the Camera Proxy Lifecycle (C11): a local
// MJPEG reverse proxy per printer context, plus a sibling RTSP-to-websocket
// bridge for printers that only expose RTSP. Grounded on engine/streammux.go
// (whose doc comments already anticipate this package) and on
// engine/httpserver.go's httprouter wrapper for the per-port HTTP surface.
package camera

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
)

const (
	mjpegPortLo = 8181
	mjpegPortHi = 8191
)

type proxyEntry struct {
	port   int
	stream *Stream
	cancel context.CancelFunc
}

// Manager is the C11 singleton: one MJPEG proxy server per active context,
// backed by a fixed port range.
type Manager struct {
	reg   *registry.Registry
	mgr   *engine.ProcMgr
	ports *PortAllocator

	mu      sync.Mutex
	streams map[string]*proxyEntry // contextID -> entry
}

func New(reg *registry.Registry, mgr *engine.ProcMgr) *Manager {
	return &Manager{
		reg:     reg,
		mgr:     mgr,
		ports:   NewPortAllocator(mjpegPortLo, mjpegPortHi),
		streams: make(map[string]*proxyEntry),
	}
}

// SetStreamURL implements §4.11's four-step procedure: tear down any
// existing proxy for this context, allocate a port, start a local server
// on it, record the cameraPort decoration, and return the local stream URL.
func (m *Manager) SetStreamURL(contextID, upstreamURL string) (string, error) {
	m.teardown(contextID)

	port, err := m.ports.Allocate()
	if err != nil {
		return "", err
	}

	stream := newStream(httpDialer(upstreamURL), idleGraceDefault)
	srv := engine.NewServer()
	srv.Handle(http.MethodGet, "/stream", stream.ServeHTTP)
	srv.Handle(http.MethodGet, "/health", engine.ServeHealthz)

	ctx, cancel := context.WithCancel(context.Background())
	entry := &proxyEntry{port: port, stream: stream, cancel: cancel}

	m.mu.Lock()
	m.streams[contextID] = entry
	m.mu.Unlock()

	// Streams are started and stopped dynamically as contexts connect and
	// switch, long after the ProcMgr's own startup Run — so each proxy
	// server runs its own goroutine rather than registering with ProcMgr.
	proc := srv.Serve(fmt.Sprintf(":%d", port))
	go proc(ctx)

	if m.reg != nil {
		m.reg.SetCameraPort(contextID, port)
	}

	return fmt.Sprintf("http://localhost:%d/stream", port), nil
}

// Teardown stops the proxy for contextID, if one exists, and releases its
// port (called on context removal, §4.4's context-removed cleanup).
func (m *Manager) Teardown(contextID string) {
	m.teardown(contextID)
	if m.reg != nil {
		m.reg.SetCameraPort(contextID, 0)
	}
}

func (m *Manager) teardown(contextID string) {
	m.mu.Lock()
	entry, ok := m.streams[contextID]
	if ok {
		delete(m.streams, contextID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.cancel()
	m.ports.Release(entry.port)
}

// TeardownAll stops every proxy, for use on process shutdown.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.teardown(id)
	}
}
