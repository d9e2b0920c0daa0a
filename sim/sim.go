// Package sim defines the simulator abstraction shared by all inference
// loops: a black box mapping a batch of parameter rows to one observation
// row each, plus wrappers for call counting and budget enforcement.
package sim

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// Simulator produces observations from parameters. Simulate must return one
// output row per input row, preserving order.
type Simulator interface {
	Simulate(theta *tensor.Tensor) (*tensor.Tensor, error)
}

// Func adapts a plain function to the Simulator interface.
type Func func(theta *tensor.Tensor) (*tensor.Tensor, error)

// Simulate calls the wrapped function
func (f Func) Simulate(theta *tensor.Tensor) (*tensor.Tensor, error) {
	return f(theta)
}

// Counting wraps a simulator and records how many rows it has produced.
type Counting struct {
	inner Simulator
	calls int
	rows  int
}

// Count wraps a simulator with call and row counting
func Count(inner Simulator) *Counting {
	return &Counting{inner: inner}
}

// Simulate forwards to the wrapped simulator and adds the batch size to the
// running totals
func (c *Counting) Simulate(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if len(theta.Shape) != 2 {
		return nil, fmt.Errorf("simulator input must be 2D, got shape %v", theta.Shape)
	}

	x, err := c.inner.Simulate(theta)
	if err != nil {
		return nil, err
	}

	c.calls++
	c.rows += theta.Shape[0]
	return x, nil
}

// Calls returns how many batches have been simulated
func (c *Counting) Calls() int {
	return c.calls
}

// Simulations returns the total number of rows simulated
func (c *Counting) Simulations() int {
	return c.rows
}

// Reset clears the counters
func (c *Counting) Reset() {
	c.calls = 0
	c.rows = 0
}

// Budgeted wraps a simulator with a hard cap on the total number of rows it
// will produce. A batch that would cross the cap is rejected whole.
type Budgeted struct {
	inner  Simulator
	budget int
	used   int
}

// WithBudget wraps a simulator with a row budget
func WithBudget(inner Simulator, budget int) (*Budgeted, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("simulation budget must be positive, got %d", budget)
	}
	return &Budgeted{inner: inner, budget: budget}, nil
}

// Simulate forwards to the wrapped simulator when the batch fits the
// remaining budget
func (b *Budgeted) Simulate(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if len(theta.Shape) != 2 {
		return nil, fmt.Errorf("simulator input must be 2D, got shape %v", theta.Shape)
	}

	n := theta.Shape[0]
	if b.used+n > b.budget {
		return nil, fmt.Errorf("simulation budget exhausted: %d of %d used, %d more requested", b.used, b.budget, n)
	}

	x, err := b.inner.Simulate(theta)
	if err != nil {
		return nil, err
	}

	b.used += n
	return x, nil
}

// Used returns the number of rows simulated so far
func (b *Budgeted) Used() int {
	return b.used
}

// Remaining returns the unspent part of the budget
func (b *Budgeted) Remaining() int {
	return b.budget - b.used
}
