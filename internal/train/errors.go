package train

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTrainingDiverged  = errors.New("train: training diverged")
	ErrIllegalTransition = errors.New("train: illegal phase transition")
	ErrNothingToTrain    = errors.New("train: model has no trainable parameters")
	ErrEmptyDataset      = errors.New("train: dataset yields no batches")
	ErrNoAdapter         = errors.New("train: no adapter attached")
	ErrAdapterAttached   = errors.New("train: adapter already attached")
	ErrStateFinished     = errors.New("train: training state is finished")
)

// DivergedError reports a non-finite loss. Params names every parameter
// whose gradient held a NaN or Inf at the time of the check.
type DivergedError struct {
	Epoch         int
	Step          int
	OptimizerStep int
	Loss          float64
	Params        []string
}

func (e *DivergedError) Error() string {
	msg := fmt.Sprintf("%v at epoch %d step %d (optimizer step %d): loss=%v", ErrTrainingDiverged, e.Epoch+1, e.Step, e.OptimizerStep, e.Loss)
	if len(e.Params) > 0 {
		msg += "; non-finite gradients in " + strings.Join(e.Params, ", ")
	}
	return msg
}

func (e *DivergedError) Unwrap() error { return ErrTrainingDiverged }
