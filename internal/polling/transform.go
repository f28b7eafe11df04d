package polling

import (
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

// deriveStatus implements the §4.6.3 stateless transformer: raw vendor
// state/temperatures/job fields become a normalized model.PrinterStatus.
// previous is the job preserved from the prior tick, used when the current
// state is one the job fields must survive across (Printing/Paused/
// Completed); it is nil on the loop's first tick.
func deriveStatus(raw printerapi.RawStatus, previous *model.CurrentJob) model.PrinterStatus {
	state := model.MapRawState(raw.State)

	status := model.PrinterStatus{
		State: state,
		Bed: model.Temperature{
			Current:   raw.BedCurrent,
			Target:    raw.BedTarget,
			IsHeating: model.IsHeating(raw.BedCurrent, raw.BedTarget),
		},
		Extruder: model.Temperature{
			Current:   raw.ExtruderCurrent,
			Target:    raw.ExtruderTarget,
			IsHeating: model.IsHeating(raw.ExtruderCurrent, raw.ExtruderTarget),
		},
	}

	switch state {
	case model.StatePrinting, model.StatePaused, model.StateCompleted:
		job := previous
		if raw.HasJob {
			job = &model.CurrentJob{
				FileName:         raw.JobFileName,
				ProgressPercent:  model.NormalizeProgress(raw.JobProgress),
				CurrentLayer:     raw.JobCurrentLayer,
				TotalLayers:      raw.JobTotalLayers,
				WeightUsedGrams:  raw.JobWeightUsedG,
				LengthUsedMeters: raw.JobLengthUsedM,
			}
		}
		job.ValidateAndSanitize()
		status.CurrentJob = job
	default:
		status.CurrentJob = nil
	}

	return status
}
