package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sbi/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements Stochastic Gradient Descent optimizer
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   map[*tensor.Tensor]*tensor.Tensor
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
		velocities:   make(map[*tensor.Tensor]*tensor.Tensor),
	}

	if momentum > 0 {
		for _, param := range parameters {
			if param.RequiresGrad() {
				velocity, _ := tensor.Zeros(param.Shape, param.DType)
				sgd.velocities[param] = velocity
			}
		}
	}

	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	for _, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad := param.Grad()

		if sgd.weightDecay > 0 {
			// grad = grad + weight_decay * param.data
			weightDecayTerm, err := tensor.ScaleShift(param, sgd.weightDecay, 0)
			if err != nil {
				return fmt.Errorf("weight decay scaling failed: %v", err)
			}
			grad, err = tensor.Add(grad, weightDecayTerm)
			if err != nil {
				return fmt.Errorf("weight decay addition failed: %v", err)
			}
		}

		if sgd.momentum > 0 {
			velocity := sgd.velocities[param]
			if velocity == nil {
				v, err := tensor.Zeros(param.Shape, param.DType)
				if err != nil {
					return fmt.Errorf("velocity initialization failed: %v", err)
				}
				velocity = v
				sgd.velocities[param] = velocity
			}

			// velocity = momentum * velocity + (1 - dampening) * grad
			momentumTerm, err := tensor.ScaleShift(velocity, sgd.momentum, 0)
			if err != nil {
				return fmt.Errorf("momentum term calculation failed: %v", err)
			}
			gradTerm, err := tensor.ScaleShift(grad, 1.0-sgd.dampening, 0)
			if err != nil {
				return fmt.Errorf("gradient term calculation failed: %v", err)
			}
			newVelocity, err := tensor.Add(momentumTerm, gradTerm)
			if err != nil {
				return fmt.Errorf("velocity update failed: %v", err)
			}
			if err := velocity.SetData(newVelocity.Data); err != nil {
				return fmt.Errorf("velocity data update failed: %v", err)
			}

			if sgd.nesterov {
				// grad = grad + momentum * velocity
				nesterovTerm, err := tensor.ScaleShift(newVelocity, sgd.momentum, 0)
				if err != nil {
					return fmt.Errorf("nesterov term calculation failed: %v", err)
				}
				grad, err = tensor.Add(grad, nesterovTerm)
				if err != nil {
					return fmt.Errorf("nesterov update failed: %v", err)
				}
			} else {
				grad = newVelocity
			}
		}

		// param.data = param.data - lr * grad
		lrGrad, err := tensor.ScaleShift(grad, sgd.learningRate, 0)
		if err != nil {
			return fmt.Errorf("learning rate scaling failed: %v", err)
		}
		newData, err := tensor.Sub(param, lrGrad)
		if err != nil {
			return fmt.Errorf("parameter update failed: %v", err)
		}
		if err := param.SetData(newData.Data); err != nil {
			return fmt.Errorf("parameter data update failed: %v", err)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[*tensor.Tensor]*tensor.Tensor // First moment estimates
	v           map[*tensor.Tensor]*tensor.Tensor // Second moment estimates
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	adam := &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		step:        0,
		m:           make(map[*tensor.Tensor]*tensor.Tensor),
		v:           make(map[*tensor.Tensor]*tensor.Tensor),
	}

	for _, param := range parameters {
		if param.RequiresGrad() {
			m, _ := tensor.Zeros(param.Shape, param.DType)
			v, _ := tensor.Zeros(param.Shape, param.DType)
			adam.m[param] = m
			adam.v[param] = v
		}
	}

	return adam
}

// NewAdamDefault creates an Adam optimizer with the usual beta and epsilon
// values and no weight decay.
func NewAdamDefault(parameters []*tensor.Tensor, lr float64) *Adam {
	return NewAdam(parameters, lr, 0.9, 0.999, 1e-8, 0)
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad := param.Grad()

		if adam.weightDecay > 0 {
			// grad = grad + weight_decay * param.data
			weightDecayTerm, err := tensor.ScaleShift(param, adam.weightDecay, 0)
			if err != nil {
				return fmt.Errorf("weight decay scaling failed: %v", err)
			}
			grad, err = tensor.Add(grad, weightDecayTerm)
			if err != nil {
				return fmt.Errorf("weight decay addition failed: %v", err)
			}
		}

		m := adam.m[param]
		v := adam.v[param]
		if m == nil || v == nil {
			mNew, err := tensor.Zeros(param.Shape, param.DType)
			if err != nil {
				return fmt.Errorf("first moment initialization failed: %v", err)
			}
			vNew, err := tensor.Zeros(param.Shape, param.DType)
			if err != nil {
				return fmt.Errorf("second moment initialization failed: %v", err)
			}
			m = mNew
			v = vNew
			adam.m[param] = m
			adam.v[param] = v
		}

		// m = beta1 * m + (1 - beta1) * grad
		beta1Term, err := tensor.ScaleShift(m, adam.beta1, 0)
		if err != nil {
			return fmt.Errorf("first moment beta1 term failed: %v", err)
		}
		gradTerm, err := tensor.ScaleShift(grad, 1.0-adam.beta1, 0)
		if err != nil {
			return fmt.Errorf("first moment grad term failed: %v", err)
		}
		newM, err := tensor.Add(beta1Term, gradTerm)
		if err != nil {
			return fmt.Errorf("first moment update failed: %v", err)
		}

		// v = beta2 * v + (1 - beta2) * grad^2
		beta2Term, err := tensor.ScaleShift(v, adam.beta2, 0)
		if err != nil {
			return fmt.Errorf("second moment beta2 term failed: %v", err)
		}
		gradSquared, err := tensor.Mul(grad, grad)
		if err != nil {
			return fmt.Errorf("gradient squaring failed: %v", err)
		}
		gradSquaredTerm, err := tensor.ScaleShift(gradSquared, 1.0-adam.beta2, 0)
		if err != nil {
			return fmt.Errorf("second moment grad squared term failed: %v", err)
		}
		newV, err := tensor.Add(beta2Term, gradSquaredTerm)
		if err != nil {
			return fmt.Errorf("second moment update failed: %v", err)
		}

		if err := m.SetData(newM.Data); err != nil {
			return fmt.Errorf("first moment data update failed: %v", err)
		}
		if err := v.SetData(newV.Data); err != nil {
			return fmt.Errorf("second moment data update failed: %v", err)
		}

		// Bias-corrected estimates
		mHat, err := tensor.ScaleShift(newM, 1.0/bias1, 0)
		if err != nil {
			return fmt.Errorf("first moment bias correction failed: %v", err)
		}
		vHat, err := tensor.ScaleShift(newV, 1.0/bias2, 0)
		if err != nil {
			return fmt.Errorf("second moment bias correction failed: %v", err)
		}

		// update = lr * m_hat / (sqrt(v_hat) + eps)
		vHatSqrt, err := tensor.Sqrt(vHat)
		if err != nil {
			return fmt.Errorf("second moment sqrt failed: %v", err)
		}
		denominator, err := tensor.ScaleShift(vHatSqrt, 1, adam.eps)
		if err != nil {
			return fmt.Errorf("denominator computation failed: %v", err)
		}
		update, err := tensor.Div(mHat, denominator)
		if err != nil {
			return fmt.Errorf("update division failed: %v", err)
		}
		lrUpdate, err := tensor.ScaleShift(update, adam.lr, 0)
		if err != nil {
			return fmt.Errorf("learning rate scaling failed: %v", err)
		}

		// param.data = param.data - update
		newData, err := tensor.Sub(param, lrUpdate)
		if err != nil {
			return fmt.Errorf("parameter update failed: %v", err)
		}
		if err := param.SetData(newData.Data); err != nil {
			return fmt.Errorf("parameter data update failed: %v", err)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.lr = lr
}

// State returns the step count and the first and second moment estimates in
// parameter order. Parameters the optimizer is not tracking have nil entries.
func (adam *Adam) State() (int64, []*tensor.Tensor, []*tensor.Tensor) {
	m := make([]*tensor.Tensor, len(adam.parameters))
	v := make([]*tensor.Tensor, len(adam.parameters))
	for i, param := range adam.parameters {
		m[i] = adam.m[param]
		v[i] = adam.v[param]
	}
	return adam.step, m, v
}

// SetState restores a snapshot captured with State. The moment slices must
// match the parameter count, and every non-nil moment must match its
// parameter's shape; nil entries leave the existing moments in place.
func (adam *Adam) SetState(step int64, m, v []*tensor.Tensor) error {
	if len(m) != len(adam.parameters) || len(v) != len(adam.parameters) {
		return fmt.Errorf("moment count mismatch: %d parameters, %d and %d moments",
			len(adam.parameters), len(m), len(v))
	}
	for i, param := range adam.parameters {
		for _, moment := range []*tensor.Tensor{m[i], v[i]} {
			if moment == nil {
				continue
			}
			if len(moment.Shape) != len(param.Shape) {
				return fmt.Errorf("moment shape mismatch for parameter %d: %v vs %v",
					i, moment.Shape, param.Shape)
			}
			for j, dim := range moment.Shape {
				if dim != param.Shape[j] {
					return fmt.Errorf("moment shape mismatch for parameter %d: %v vs %v",
						i, moment.Shape, param.Shape)
				}
			}
		}
	}

	adam.step = step
	for i, param := range adam.parameters {
		if m[i] != nil {
			adam.m[param] = m[i]
		}
		if v[i] != nil {
			adam.v[param] = v[i]
		}
	}
	return nil
}
