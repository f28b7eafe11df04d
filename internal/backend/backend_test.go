package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

func TestNew_SelectsFeatureSetByModelKind(t *testing.T) {
	b := New(model.ModelAdventurer5MPro, &printerapi.FakeRichClient{}, nil)
	fs := b.GetFeatureSet()
	assert.True(t, fs.Status)
	assert.True(t, fs.MaterialStation)
	assert.False(t, fs.AD5XUpload)

	ad5x := New(model.ModelAD5X, &printerapi.FakeRichClient{}, nil)
	assert.True(t, ad5x.GetFeatureSet().AD5XUpload)

	legacy := New(model.ModelGenericLegacy, nil, &printerapi.FakeLegacyClient{})
	assert.True(t, legacy.GetFeatureSet().GCode)
	assert.False(t, legacy.GetFeatureSet().Status)
}

func TestInitialize_CoalescesConcurrentCallers(t *testing.T) {
	rich := &printerapi.FakeRichClient{InitOK: true}
	b := New(model.ModelAdventurer5M, rich, nil)

	results := make(chan Result[bool], 4)
	for i := 0; i < 4; i++ {
		go func() { results <- b.Initialize(context.Background()) }()
	}
	for i := 0; i < 4; i++ {
		res := <-results
		require.NoError(t, res.Err)
		assert.True(t, res.Value)
	}
}

func TestOperations_FailAfterDispose(t *testing.T) {
	rich := &printerapi.FakeRichClient{InitOK: true}
	b := New(model.ModelAdventurer5M, rich, nil)
	require.NoError(t, b.Initialize(context.Background()).Err)

	res := b.Dispose(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, rich.Disposed)

	status := b.GetPrinterStatus(context.Background())
	require.ErrorIs(t, status.Err, ErrBackendDisposed)
}

func TestGetMaterialStationStatus_UnsupportedWhenFeatureOff(t *testing.T) {
	legacy := New(model.ModelGenericLegacy, nil, &printerapi.FakeLegacyClient{})
	res := legacy.GetMaterialStationStatus(context.Background())
	require.ErrorIs(t, res.Err, printerapi.ErrUnsupportedFeature)
}

func TestJobControl_DispatchesToRichClient(t *testing.T) {
	rich := &printerapi.FakeRichClient{InitOK: true}
	b := New(model.ModelAdventurer5M, rich, nil)
	require.NoError(t, b.PauseJob(context.Background()).Err)
	require.NoError(t, b.ResumeJob(context.Background()).Err)
	require.NoError(t, b.CancelJob(context.Background()).Err)
}

func TestExecuteGCode_UsesLegacyClient(t *testing.T) {
	legacy := &printerapi.FakeLegacyClient{}
	b := New(model.ModelGenericLegacy, nil, legacy)
	require.NoError(t, b.ExecuteGCode(context.Background(), "M105").Err)
	assert.Equal(t, []string{"M105"}, legacy.RawCommands)
}

func TestUploadFileAD5X_UnsupportedOnNonAD5X(t *testing.T) {
	rich := &printerapi.FakeRichClient{InitOK: true}
	b := New(model.ModelAdventurer5M, rich, nil)
	res := b.UploadFileAD5X(context.Background(), "/tmp/f.gcode", true, false, nil)
	require.ErrorIs(t, res.Err, printerapi.ErrUnsupportedFeature)
}

func TestReady_ReflectsInitializeAndDisposeState(t *testing.T) {
	rich := &printerapi.FakeRichClient{InitOK: true}
	b := New(model.ModelAdventurer5M, rich, nil)
	assert.False(t, b.Ready())

	require.NoError(t, b.Initialize(context.Background()).Err)
	assert.True(t, b.Ready())

	b.Dispose(context.Background())
	assert.False(t, b.Ready())
}

func TestModelKind_ReturnsSelectedKind(t *testing.T) {
	b := New(model.ModelAD5X, &printerapi.FakeRichClient{AD5X: true}, nil)
	assert.Equal(t, model.ModelAD5X, b.ModelKind())
}
