package connect

import (
	"context"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

// clientPair is the result of the final handshake step (§4.3.4): legacy is
// always set, primary (the rich client) is set only for the 5M family.
type clientPair struct {
	primary printerapi.RichClient
	legacy  printerapi.LegacyClient
}

// handshake performs §4.3.4's final handshake. carry, if non-nil, is a
// probe's already-initialized legacy client that may be reused when the
// family doesn't require a rich client.
func handshake(ctx context.Context, factory printerapi.Factory, ip, serial, checkCode string, family model.Family, carry printerapi.LegacyClient) (*clientPair, error) {
	if family == model.FamilyFiveM {
		primary := factory.NewRichClient(ip, serial, checkCode)

		if ok, err := primary.Initialize(ctx); err != nil || !ok {
			primary.Dispose()
			return nil, newConnErr(ErrKindProtocolHandshake, err)
		}
		if ok, err := primary.InitControl(ctx); err != nil || !ok {
			primary.Dispose()
			return nil, newConnErr(ErrKindProtocolHandshake, err)
		}

		select {
		case <-ctx.Done():
			primary.Dispose()
			return nil, newConnErr(ErrKindCancelled, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}

		legacy := factory.NewLegacyClient(ip)
		if ok, err := legacy.InitControl(ctx); err != nil || !ok {
			primary.Dispose()
			legacy.Dispose()
			return nil, newConnErr(ErrKindProtocolHandshake, err)
		}

		return &clientPair{primary: primary, legacy: legacy}, nil
	}

	// Legacy family: reuse the probe's client if we have one, else open fresh.
	legacy := carry
	if legacy == nil {
		legacy = factory.NewLegacyClient(ip)
		if ok, err := legacy.InitControl(ctx); err != nil || !ok {
			legacy.Dispose()
			return nil, newConnErr(ErrKindProtocolHandshake, err)
		}
	}
	return &clientPair{primary: nil, legacy: legacy}, nil
}
