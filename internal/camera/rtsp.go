package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/websocket"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
)

const (
	rtspPortLo = 9000
	rtspPortHi = 9009
)

type rtspEntry struct {
	port   int
	mux    *engine.StreamMux
	cancel context.CancelFunc
}

// RTSPBridge is the RTSP sibling named in the domain stack: printers whose
// camera only speaks RTSP get an ffmpeg-transcoded mpeg-over-websocket feed
// instead of the MJPEG proxy. It reuses the same StreamMux broadcast
// mechanism as the MJPEG path, just with an ffmpeg process as the source
// and a websocket endpoint instead of an HTTP multipart one.
type RTSPBridge struct {
	ports *PortAllocator

	mu      sync.Mutex
	streams map[string]*rtspEntry
}

func NewRTSPBridge() *RTSPBridge {
	return &RTSPBridge{
		ports:   NewPortAllocator(rtspPortLo, rtspPortHi),
		streams: make(map[string]*rtspEntry),
	}
}

// StartStream tears down any existing bridge for contextID, spawns ffmpeg
// against rtspURL, and serves the transcoded feed over a websocket at the
// returned URL.
func (b *RTSPBridge) StartStream(contextID, rtspURL string) (string, error) {
	b.teardown(contextID)

	port, err := b.ports.Allocate()
	if err != nil {
		return "", err
	}

	mux := engine.NewStreamMux(reconnectingSource(ffmpegDialer(rtspURL)))
	srv := engine.NewServer()
	wsHandler := websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		ch := mux.Subscribe()
		if ch == nil {
			ws.Close()
			return
		}
		defer mux.Unsubscribe(ch)
		for chunk := range ch {
			if _, err := ws.Write(chunk); err != nil {
				return
			}
		}
	})
	srv.Handle(http.MethodGet, "/ws", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		wsHandler.ServeHTTP(w, r)
	})
	srv.Handle(http.MethodGet, "/health", engine.ServeHealthz)

	ctx, cancel := context.WithCancel(context.Background())
	entry := &rtspEntry{port: port, mux: mux, cancel: cancel}

	b.mu.Lock()
	b.streams[contextID] = entry
	b.mu.Unlock()

	proc := srv.Serve(fmt.Sprintf(":%d", port))
	go proc(ctx)

	return fmt.Sprintf("ws://localhost:%d/ws", port), nil
}

// Teardown stops the bridge for contextID, if one exists, and releases its
// port.
func (b *RTSPBridge) Teardown(contextID string) { b.teardown(contextID) }

func (b *RTSPBridge) teardown(contextID string) {
	b.mu.Lock()
	entry, ok := b.streams[contextID]
	if ok {
		delete(b.streams, contextID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	entry.cancel()
	b.ports.Release(entry.port)
}

// TeardownAll stops every bridge, for use on process shutdown.
func (b *RTSPBridge) TeardownAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.teardown(id)
	}
}

// ffmpegDialer spawns ffmpeg to transcode an RTSP feed into an MPEG-1
// elementary stream suitable for a browser-side websocket player, following
// the same Dialer shape as the MJPEG path's httpDialer.
func ffmpegDialer(rtspURL string) Dialer {
	return func(ctx context.Context) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-rtsp_transport", "tcp", "-i", rtspURL,
			"-f", "mpegts", "-codec:v", "mpeg1video", "-codec:a", "mp2", "-",
		)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &cmdOutput{ReadCloser: stdout, cmd: cmd}, nil
	}
}

// cmdOutput adapts a running command's stdout pipe into an io.ReadCloser
// that also reaps the process on Close.
type cmdOutput struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdOutput) Close() error {
	err := c.ReadCloser.Close()
	_ = c.cmd.Wait()
	return err
}
