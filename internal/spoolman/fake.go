package spoolman

import (
	"context"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// FakeUpdater is a hand-written UsageUpdater test double, mirroring
// printerapi.FakeRichClient's call-recording shape.
type FakeUpdater struct {
	Result model.Spool
	Err    error

	Calls []FakeUpdateCall
}

type FakeUpdateCall struct {
	SpoolID int64
	Payload UsagePayload
}

func (f *FakeUpdater) UpdateUsage(_ context.Context, spoolID int64, payload UsagePayload) (model.Spool, error) {
	f.Calls = append(f.Calls, FakeUpdateCall{SpoolID: spoolID, Payload: payload})
	if f.Err != nil {
		return model.Spool{}, f.Err
	}
	return f.Result, nil
}
