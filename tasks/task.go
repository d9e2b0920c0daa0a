// Package tasks provides reference inference tasks: a prior over parameters,
// a stochastic simulator, and reproducible numbered observations with their
// generating parameters. They make the training loops runnable end-to-end
// without external data.
package tasks

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tensor"
)

// Task bundles everything an inference run needs. Observations are numbered
// from 1 and generated deterministically, so Observation(k) returns the same
// row on every call regardless of how much the task's simulator has been
// used in between.
type Task interface {
	Name() string
	ThetaDim() int
	XDim() int
	Prior() dist.Distribution
	Simulator() sim.Simulator
	NumObservations() int
	Observation(num int) (*tensor.Tensor, error)
	TrueParameters(num int) (*tensor.Tensor, error)
}

// New builds a named task. The source drives the prior and the simulator
// noise; reference observations use fixed per-task seeds instead.
func New(name string, src rand.Source) (Task, error) {
	switch name {
	case "two_moons":
		return NewTwoMoons(src)
	case "gaussian_linear":
		return NewGaussianLinear(src)
	default:
		return nil, fmt.Errorf("unknown task %q", name)
	}
}

func checkObservationNumber(num, max int) error {
	if num < 1 || num > max {
		return fmt.Errorf("observation number must be in [1, %d], got %d", max, num)
	}
	return nil
}
