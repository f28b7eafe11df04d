package printerapi

import (
	"context"
	"errors"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// ErrUnsupportedFeature is returned by a backend/client when asked for a
// capability it doesn't have (§4.5, §7's UnsupportedFeature kind).
var ErrUnsupportedFeature = errors.New("unsupported feature")

// FakeLegacyClient and FakeRichClient are hand-written test doubles, in the
// style of modules/machines/module.go's NewForTesting/SetTestState
// constructor-injected fakes rather than a generated mock. They live in a
// non-test file so other packages' tests can construct them directly.
type FakeLegacyClient struct {
	Info        PrinterInfo
	InitOK      bool
	InitErr     error
	RawCommands []string
	Disposed    bool
}

func (f *FakeLegacyClient) InitControl(context.Context) (bool, error) { return f.InitOK, f.InitErr }

func (f *FakeLegacyClient) GetPrinterInfo(context.Context) (PrinterInfo, error) {
	return f.Info, nil
}

func (f *FakeLegacyClient) SendRawCmd(_ context.Context, cmd string) error {
	f.RawCommands = append(f.RawCommands, cmd)
	return nil
}

func (f *FakeLegacyClient) Dispose() error {
	f.Disposed = true
	return nil
}

type FakeRichClient struct {
	InitOK       bool
	InitErr      error
	InitCtrlOK   bool
	InitCtrlErr  error
	Disposed     bool
	Status       RawStatus
	StatusErr    error
	MaterialErr  error
	Thumbnails   map[string]string
	ThumbnailErr map[string]error
	AD5X         bool
}

func (f *FakeRichClient) Initialize(context.Context) (bool, error)  { return f.InitOK, f.InitErr }
func (f *FakeRichClient) InitControl(context.Context) (bool, error) { return f.InitCtrlOK, f.InitCtrlErr }
func (f *FakeRichClient) Dispose() error                            { f.Disposed = true; return nil }

func (f *FakeRichClient) GetPrinterStatus(context.Context) (RawStatus, error) {
	return f.Status, f.StatusErr
}

func (f *FakeRichClient) GetMaterialStationStatus(context.Context) (model.MaterialStationStatus, error) {
	if f.MaterialErr != nil {
		return nil, f.MaterialErr
	}
	return model.MaterialStationStatus{}, nil
}

func (f *FakeRichClient) GetLocalJobs(context.Context) ([]JobSummary, error)  { return nil, nil }
func (f *FakeRichClient) GetRecentJobs(context.Context) ([]JobSummary, error) { return nil, nil }
func (f *FakeRichClient) StartJob(context.Context, StartJobParams) error      { return nil }
func (f *FakeRichClient) PauseJob(context.Context) error                      { return nil }
func (f *FakeRichClient) ResumeJob(context.Context) error                     { return nil }
func (f *FakeRichClient) CancelJob(context.Context) error                     { return nil }
func (f *FakeRichClient) GetModelPreview(context.Context) ([]byte, error)     { return nil, nil }

func (f *FakeRichClient) GetJobThumbnail(_ context.Context, fileName string) (string, error) {
	if f.ThumbnailErr != nil {
		if err, ok := f.ThumbnailErr[fileName]; ok {
			return "", err
		}
	}
	if f.Thumbnails != nil {
		if t, ok := f.Thumbnails[fileName]; ok {
			return t, nil
		}
	}
	return "", nil
}

func (f *FakeRichClient) UploadFileAD5X(_ context.Context, _ string, _, _ bool, _ map[string]string) error {
	if !f.AD5X {
		return ErrUnsupportedFeature
	}
	return nil
}

// FakeFactory hands out pre-built fakes, keyed by IP for the legacy side so
// a test can script per-printer behavior (probe vs. handshake calls reuse
// whatever was registered for that IP).
type FakeFactory struct {
	Legacy map[string]*FakeLegacyClient
	Rich   map[string]*FakeRichClient

	// NewLegacyCalls/NewRichCalls record every IP handed to the factory, in
	// order, so a test can assert call counts (e.g. probe reuses its
	// carried client rather than opening a second one).
	NewLegacyCalls []string
	NewRichCalls   []string
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{Legacy: map[string]*FakeLegacyClient{}, Rich: map[string]*FakeRichClient{}}
}

func (f *FakeFactory) NewLegacyClient(ip string) LegacyClient {
	f.NewLegacyCalls = append(f.NewLegacyCalls, ip)
	if c, ok := f.Legacy[ip]; ok {
		return c
	}
	return &FakeLegacyClient{}
}

func (f *FakeFactory) NewRichClient(ip, _, _ string) RichClient {
	f.NewRichCalls = append(f.NewRichCalls, ip)
	if c, ok := f.Rich[ip]; ok {
		return c
	}
	return &FakeRichClient{}
}
