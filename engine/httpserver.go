package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Server is a small httprouter wrapper shared by every local HTTP surface
// the core owns (the Camera Proxy's per-port stream server, the RTSP
// sibling's websocket endpoint, the process healthz). It only adds request
// logging and response-flushing support on top of httprouter; there is no
// authentication layer because nothing in this module has an inbound
// auth surface of its own — that lives in the external WebUI.
type Server struct {
	router *httprouter.Router
}

func NewServer() *Server {
	return &Server{router: httprouter.New()}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Handle registers a logged handler for the given method and path.
func (s *Server) Handle(method, path string, fn httprouter.Handle) {
	s.router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		ww := &responseWrapper{ResponseWriter: w, status: 200}
		fn(ww, r, ps)
		slog.Debug("http request",
			"url", r.URL.Path, "method", r.Method,
			"latencyMS", time.Since(start).Milliseconds(), "status", ww.status)
	})
}

// Serve wires the server up as a Proc with graceful shutdown on context
// cancellation.
func (s *Server) Serve(addr string) Proc {
	return func(ctx context.Context) error {
		svr := &http.Server{Handler: s, Addr: addr}
		go func() {
			<-ctx.Done()
			svr.Shutdown(context.Background())
		}()
		if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// ServeHealthz reports 200 as long as the process is up; used by both the
// per-context camera health endpoint and the process-wide health probe.
func ServeHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

// CheckHealthProbe performs a simple reachability check against a health
// endpoint, for use by an external process supervisor or by tests.
func CheckHealthProbe(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (w *responseWrapper) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush implements http.Flusher so MJPEG/stream handlers can push chunks
// as they arrive instead of buffering the whole response.
func (w *responseWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
