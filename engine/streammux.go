package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

const (
	defaultStreamBufSize  = 32 * 1024
	defaultStreamChanSize = 30
)

// StreamMux multiplexes a single upstream data source to multiple
// subscribers. It lazily starts the source when the first subscriber
// connects and automatically stops it when the last one disconnects. This
// is the mechanism behind the Camera Proxy Lifecycle (C11): one StreamMux
// per printer context, its source dialing the printer's MJPEG upstream.
type StreamMux struct {
	// BufSize overrides the per-read chunk size (default 32KiB). ChanSize
	// overrides each subscriber's channel buffer depth (default 30).
	BufSize  int
	ChanSize int

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	running bool
	cancel  context.CancelFunc
	gen     uint64 // generation counter, guards against a stale broadcast's cleanup racing a fresh one

	// source is called when the first client subscribes. It should return
	// an io.ReadCloser that produces the stream bytes; ctx is canceled once
	// the last client has disconnected.
	source func(ctx context.Context) (io.ReadCloser, error)
}

func NewStreamMux(source func(ctx context.Context) (io.ReadCloser, error)) *StreamMux {
	return &StreamMux{
		clients: make(map[chan []byte]struct{}),
		source:  source,
	}
}

func (s *StreamMux) bufSize() int {
	if s.BufSize > 0 {
		return s.BufSize
	}
	return defaultStreamBufSize
}

func (s *StreamMux) chanSize() int {
	if s.ChanSize > 0 {
		return s.ChanSize
	}
	return defaultStreamChanSize
}

// Subscribe returns a channel that receives stream chunks as they arrive.
// The caller must call Unsubscribe when done to avoid leaking the channel
// and, eventually, the upstream connection. Returns nil if the source
// failed to start.
func (s *StreamMux) Subscribe() chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients == nil {
		s.clients = make(map[chan []byte]struct{})
	}

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.gen++
		myGen := s.gen

		reader, err := s.source(ctx)
		if err != nil {
			slog.Error("streammux: failed to start source", "error", err)
			cancel()
			return nil
		}

		s.running = true
		go s.broadcast(ctx, reader, myGen)
	}

	ch := make(chan []byte, s.chanSize())
	s.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client from the stream. When the last client
// unsubscribes, the upstream source is torn down. Any idle grace period
// before that teardown is the caller's responsibility — see the camera
// package's delayed-teardown wrapper.
func (s *StreamMux) Unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[ch]; !ok {
		return
	}
	delete(s.clients, ch)
	close(ch)

	if len(s.clients) == 0 && s.cancel != nil {
		s.cancel()
		s.running = false
		s.cancel = nil
	}
}

func (s *StreamMux) broadcast(ctx context.Context, reader io.ReadCloser, myGen uint64) {
	defer reader.Close()
	defer func() {
		s.mu.Lock()
		// Only clean up if we're still the active broadcast; a newer
		// generation means a fresh Subscribe already raced us here.
		if s.gen == myGen {
			s.running = false
			for ch := range s.clients {
				close(ch)
				delete(s.clients, ch)
			}
		}
		s.mu.Unlock()
	}()

	buf := make([]byte, s.bufSize())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.RLock()
			for ch := range s.clients {
				select {
				case ch <- data:
				default:
					// slow client, drop this frame rather than block the broadcast
				}
			}
			s.mu.RUnlock()
		}
		if err != nil {
			if err != io.EOF {
				slog.Error("streammux: read error", "error", err)
			}
			return
		}
	}
}

// ClientCount returns the current number of subscribers.
func (s *StreamMux) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Running reports whether the upstream source is currently active.
func (s *StreamMux) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
