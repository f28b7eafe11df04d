package thumbnails

import (
	"context"
	"errors"
	"sync"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// fakeBackend is a hand-written ThumbnailBackend test double.
type fakeBackend struct {
	kind model.ModelKind

	mu       sync.Mutex
	results  map[string]string // fileName -> base64 thumbnail ("" means null)
	errs     map[string]error  // fileName -> error to return once per failAttempts
	failN    map[string]int    // fileName -> remaining failures before succeeding
	calls    []string
}

func newFakeBackend(kind model.ModelKind) *fakeBackend {
	return &fakeBackend{
		kind: kind, results: map[string]string{}, errs: map[string]error{}, failN: map[string]int{},
	}
}

func (f *fakeBackend) ModelKind() model.ModelKind { return f.kind }

func (f *fakeBackend) GetJobThumbnail(_ context.Context, fileName string) backend.Result[string] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fileName)

	if n := f.failN[fileName]; n > 0 {
		f.failN[fileName] = n - 1
		return backend.Result[string]{Err: errors.New("transient error")}
	}
	if err, ok := f.errs[fileName]; ok {
		return backend.Result[string]{Err: err}
	}
	return backend.Result[string]{Value: f.results[fileName]}
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
