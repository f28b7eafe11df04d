package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

// ProbeOutcome is the result of a successful probe. Carry, when non-nil,
// is the already-initialized legacy client the final handshake may reuse
// instead of opening a fresh one — this is the explicit, typed
// replacement for the source's sentinel "_reuseableClient" field (§9).
type ProbeOutcome struct {
	Identity model.PrinterIdentity
	Carry    printerapi.LegacyClient
}

// ProbeOptions configures timeout/retry behavior (§4.3.1 defaults:
// T_probe=10s, N_probe=3, backoff starting at 1s and doubling).
type ProbeOptions struct {
	Timeout    time.Duration
	Retries    int
	BaseBackoff time.Duration
}

func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{Timeout: 10 * time.Second, Retries: 3, BaseBackoff: time.Second}
}

// Probe opens a temporary legacy client against ip and retrieves its
// identity, retrying with exponential backoff on failure. On final
// failure the partial client is disposed and a ConnectionError{probe-failed}
// is returned.
func Probe(ctx context.Context, factory printerapi.Factory, ip string, opts ProbeOptions) (*ProbeOutcome, error) {
	var lastErr error
	backoff := opts.BaseBackoff

	for attempt := 0; attempt < opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, newConnErr(ErrKindCancelled, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		outcome, err := probeOnce(ctx, factory, ip, opts.Timeout)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
	}

	return nil, newConnErr(ErrKindProbeFailed, lastErr)
}

func probeOnce(ctx context.Context, factory printerapi.Factory, ip string, timeout time.Duration) (*ProbeOutcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := factory.NewLegacyClient(ip)

	ok, err := client.InitControl(attemptCtx)
	if err != nil || !ok {
		client.Dispose()
		if err == nil {
			err = fmt.Errorf("initControl returned false")
		}
		return nil, err
	}

	info, err := client.GetPrinterInfo(attemptCtx)
	if err != nil || info.TypeName == "" {
		client.Dispose()
		if err == nil {
			err = fmt.Errorf("no typeName returned")
		}
		return nil, err
	}
	if attemptCtx.Err() != nil {
		client.Dispose()
		return nil, attemptCtx.Err()
	}

	serial := info.SerialNumber
	if serial == "" {
		serial = model.SynthesizeSerial(time.Now())
	}

	return &ProbeOutcome{
		Identity: model.PrinterIdentity{
			Name:         info.Name,
			IPAddress:    ip,
			SerialNumber: serial,
			TypeName:     info.TypeName,
		},
		Carry: client,
	}, nil
}
