package camera

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
)

func TestPortAllocator_AllocateReleaseCycle(t *testing.T) {
	p := NewPortAllocator(8181, 8183)

	a, err := p.Allocate()
	require.NoError(t, err)
	b, err := p.Allocate()
	require.NoError(t, err)
	c, err := p.Allocate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{8181, 8182, 8183}, []int{a, b, c})

	_, err = p.Allocate()
	assert.ErrorIs(t, err, ErrPortsExhausted)

	p.Release(b)
	d, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, b, d)
}

// fakeDialer returns a reader over body, recording call counts and failing
// the first failCount attempts.
type fakeDialer struct {
	body      string
	failCount int32
	calls     int32
}

func (f *fakeDialer) dial(ctx context.Context) (io.ReadCloser, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failCount) {
		return nil, errors.New("dial failed")
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestReconnectingSource_RetriesThenSucceeds(t *testing.T) {
	fd := &fakeDialer{body: "frame-data", failCount: 2}
	src := reconnectingSource(fd.dial)

	// Shrink the backoff so the test doesn't actually wait seconds; this
	// exercises the retry path, not the real delay schedule.
	origBase, origMax := reconnectBaseDelay, reconnectMaxDelay
	reconnectBaseDelay, reconnectMaxDelay = time.Millisecond, time.Millisecond
	defer func() { reconnectBaseDelay, reconnectMaxDelay = origBase, origMax }()

	rc, err := src(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "frame-data", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&fd.calls))
}

func TestReconnectingSource_GivesUpAfterMaxRetries(t *testing.T) {
	fd := &fakeDialer{failCount: 999}
	src := reconnectingSource(fd.dial)

	origBase, origMax := reconnectBaseDelay, reconnectMaxDelay
	reconnectBaseDelay, reconnectMaxDelay = time.Millisecond, time.Millisecond
	defer func() { reconnectBaseDelay, reconnectMaxDelay = origBase, origMax }()

	_, err := src(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(reconnectMaxRetry+1), atomic.LoadInt32(&fd.calls))
}

func TestStream_ServeHTTP_ProxiesUpstreamChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk-one"))
	}))
	defer upstream.Close()

	s := newStream(httpDialer(upstream.URL), 10*time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ServeHTTP(rec, req, httprouter.Params{})
	}()
	wg.Wait()

	assert.Contains(t, rec.Body.String(), "chunk-one")
}

func TestStream_ResubscribeAfterDelayedUnsubscribe(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer upstream.Close()

	s := newStream(httpDialer(upstream.URL), 200*time.Millisecond)

	ch1 := s.mux.Subscribe()
	require.NotNil(t, ch1)
	assert.True(t, s.Running())

	// Unsubscribe the first client after 10ms, the way ServeHTTP's defer
	// does after its grace delay.
	time.AfterFunc(10*time.Millisecond, func() { s.mux.Unsubscribe(ch1) })
	time.Sleep(30 * time.Millisecond)

	// After the first client has left, a new client still gets a channel.
	ch2 := s.mux.Subscribe()
	require.NotNil(t, ch2)
	s.mux.Unsubscribe(ch2)
}

func TestManager_SetStreamURL_ReturnsLocalProxyURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frame"))
	}))
	defer upstream.Close()

	reg := registry.New(nil)
	m := New(reg, nil)
	defer m.TeardownAll()

	streamURL, err := m.SetStreamURL("ctx-1", upstream.URL)
	require.NoError(t, err)

	parsed, err := url.Parse(streamURL)
	require.NoError(t, err)
	assert.Equal(t, "/stream", parsed.Path)
	assert.NotEmpty(t, parsed.Port())
}

func TestManager_SetStreamURL_ReplacesExistingProxyForSameContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frame"))
	}))
	defer upstream.Close()

	m := New(nil, nil)
	defer m.TeardownAll()

	first, err := m.SetStreamURL("ctx-1", upstream.URL)
	require.NoError(t, err)
	second, err := m.SetStreamURL("ctx-1", upstream.URL)
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.Len(t, m.streams, 1, "replacing the stream for the same context must not leak a second entry")
}

func TestManager_Teardown_ReleasesPort(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frame"))
	}))
	defer upstream.Close()

	m := New(nil, nil)
	_, err := m.SetStreamURL("ctx-1", upstream.URL)
	require.NoError(t, err)

	m.Teardown("ctx-1")
	assert.Len(t, m.streams, 0)

	// The port should be free again.
	_, err = m.SetStreamURL("ctx-2", upstream.URL)
	require.NoError(t, err)
	m.Teardown("ctx-2")
}

func TestRTSPBridge_PortRangeIsDistinctFromMJPEG(t *testing.T) {
	b := NewRTSPBridge()
	defer b.TeardownAll()

	assert.Equal(t, rtspPortLo, b.ports.lo)
	assert.Equal(t, rtspPortHi, b.ports.hi)
}
