package camera

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
)

const (
	idleGraceDefault  = 5 * time.Second
	reconnectMaxRetry = 5
)

// reconnectBaseDelay/reconnectMaxDelay are vars rather than consts so tests
// can shrink the backoff schedule instead of actually waiting it out.
var (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 16 * time.Second
)

// Dialer opens one upstream connection to a printer's camera feed. It is
// called fresh on every (re)connect attempt, the same func-type-collaborator
// shape as modules/discordwebhook/sender.go's Sender.
type Dialer func(ctx context.Context) (io.ReadCloser, error)

// httpDialer builds a Dialer over a plain HTTP GET, used for the MJPEG
// upstream URL the caller supplies to SetStreamURL.
func httpDialer(url string) Dialer {
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &statusError{url: url, status: resp.StatusCode}
		}
		return resp.Body, nil
	}
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return "camera: upstream " + e.url + " returned unexpected status"
}

// reconnectingSource wraps a Dialer so that opening the upstream, which
// engine.StreamMux does when a subscriber starts the broadcast, is retried
// with exponential backoff: up to reconnectMaxRetry+1 dial attempts, the
// delay doubling from reconnectBaseDelay and capped at reconnectMaxDelay,
// abandoned once ctx is done. Only the dial is retried: once the upstream
// is open, a read error or EOF ends the broadcast, StreamMux closes every
// subscriber's channel, and no reconnect is attempted.
func reconnectingSource(dial Dialer) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		delay := reconnectBaseDelay
		var lastErr error
		for attempt := 0; attempt <= reconnectMaxRetry; attempt++ {
			rc, err := dial(ctx)
			if err == nil {
				return rc, nil
			}
			lastErr = err
			if attempt == reconnectMaxRetry {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
		}
		return nil, lastErr
	}
}

// Stream is one proxied camera feed: an engine.StreamMux fed by a
// reconnecting upstream Dialer, exposed over HTTP with a grace period
// before the upstream is actually torn down on the last client leaving.
// The grace period needs no cancellation bookkeeping: if a new client
// subscribes before the delayed Unsubscribe fires, that call removes only
// the departed client's channel, StreamMux's clients map still holds the
// new client, and the upstream is not torn down.
type Stream struct {
	mux       *engine.StreamMux
	idleGrace time.Duration
}

func newStream(dial Dialer, idleGrace time.Duration) *Stream {
	if idleGrace <= 0 {
		idleGrace = idleGraceDefault
	}
	return &Stream{
		mux:       engine.NewStreamMux(reconnectingSource(dial)),
		idleGrace: idleGrace,
	}
}

// ServeHTTP streams chunks to one client as multipart/x-mixed-replace,
// unsubscribing (after the grace period) once the client disconnects.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ch := s.mux.Subscribe()
	if ch == nil {
		http.Error(w, "camera upstream unavailable", http.StatusBadGateway)
		return
	}
	unsubscribed := false
	defer func() {
		if !unsubscribed {
			time.AfterFunc(s.idleGrace, func() { s.mux.Unsubscribe(ch) })
		}
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				unsubscribed = true
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// ClientCount reports how many clients are currently attached to the
// upstream feed.
func (s *Stream) ClientCount() int { return s.mux.ClientCount() }

// Running reports whether the upstream dial loop is currently active.
func (s *Stream) Running() bool { return s.mux.Running() }
