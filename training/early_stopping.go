package training

import "math"

// DefaultStopAfterEpochs is the patience window used when none is configured.
const DefaultStopAfterEpochs = 20

// EarlyStopping tracks the validation-loss trend of a single training phase
// and signals when the loss has stopped improving for a patience window of
// epochs. State is local to one phase; construct a fresh monitor per phase.
type EarlyStopping struct {
	StopAfterEpochs int

	lowestEvalLoss float64
	waited         int
}

// NewEarlyStopping creates a monitor with the given patience window.
func NewEarlyStopping(stopAfterEpochs int) *EarlyStopping {
	if stopAfterEpochs <= 0 {
		stopAfterEpochs = DefaultStopAfterEpochs
	}
	return &EarlyStopping{
		StopAfterEpochs: stopAfterEpochs,
		lowestEvalLoss:  math.Inf(1),
	}
}

// Update folds in this epoch's validation loss and reports whether training
// should stop. lossOld is the previous epoch's validation loss, so Update is
// only meaningful from the second epoch on.
//
// A loss that got worse than the previous epoch counts against the patience
// window even when it is also worse than the best seen; a loss equal to the
// best leaves the counter untouched.
func (es *EarlyStopping) Update(lossNew, lossOld float64) bool {
	if lossNew > lossOld {
		// Not improving. The previous loss may still be the best seen so far.
		if lossOld < es.lowestEvalLoss {
			es.lowestEvalLoss = lossOld
		}
		es.waited++
	} else if lossNew > es.lowestEvalLoss {
		es.waited++
	} else if lossNew < es.lowestEvalLoss {
		es.lowestEvalLoss = lossNew
		es.waited = 0
	}

	return es.waited >= es.StopAfterEpochs
}

// BestLoss returns the lowest validation loss seen so far.
func (es *EarlyStopping) BestLoss() float64 {
	return es.lowestEvalLoss
}

// Waited returns how many epochs have passed without improvement.
func (es *EarlyStopping) Waited() int {
	return es.waited
}
