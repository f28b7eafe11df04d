package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

func TestProbe_SucceedsOnFirstAttempt(t *testing.T) {
	factory := printerapi.NewFakeFactory()
	factory.Legacy["10.0.0.5"] = &printerapi.FakeLegacyClient{
		InitOK: true,
		Info:   printerapi.PrinterInfo{TypeName: "Adventurer 5M Pro", Name: "printer1", SerialNumber: "SN1"},
	}

	outcome, err := Probe(context.Background(), factory, "10.0.0.5", ProbeOptions{Timeout: time.Second, Retries: 3, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "SN1", outcome.Identity.SerialNumber)
	assert.Equal(t, "10.0.0.5", outcome.Identity.IPAddress)
	assert.NotNil(t, outcome.Carry)
}

func TestProbe_SynthesizesSerialWhenEmpty(t *testing.T) {
	factory := printerapi.NewFakeFactory()
	factory.Legacy["10.0.0.6"] = &printerapi.FakeLegacyClient{
		InitOK: true,
		Info:   printerapi.PrinterInfo{TypeName: "Adventurer 3"},
	}

	outcome, err := Probe(context.Background(), factory, "10.0.0.6", ProbeOptions{Timeout: time.Second, Retries: 1, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Identity.SerialNumber)
}

func TestProbe_FailsAfterExhaustingRetries(t *testing.T) {
	factory := printerapi.NewFakeFactory()
	factory.Legacy["10.0.0.7"] = &printerapi.FakeLegacyClient{
		InitOK:  false,
		InitErr: errors.New("connection refused"),
	}

	_, err := Probe(context.Background(), factory, "10.0.0.7", ProbeOptions{Timeout: time.Second, Retries: 3, BaseBackoff: time.Millisecond})
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrKindProbeFailed, connErr.Kind)
	assert.Len(t, factory.NewLegacyCalls, 3)
}
