package tensor

import (
	"fmt"
)

// attachCreator records op as the creator of result when any input carries
// gradients. Tensors that never need gradients stay graph-free so inference
// passes do not accumulate history.
func attachCreator(result *Tensor, op Operation, requiresGrad bool) {
	result.requiresGrad = requiresGrad
	if requiresGrad {
		result.creator = op
	}
}

func anyRequiresGrad(tensors ...*Tensor) bool {
	for _, t := range tensors {
		if t.requiresGrad {
			return true
		}
	}
	return false
}

// reduceGradientToShape sums a gradient over broadcast dimensions so it
// matches the pre-broadcast shape of the corresponding forward input.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}

	result := grad
	var err error

	// Sum away leading dimensions the target never had.
	for len(result.Shape) > len(targetShape) {
		result, err = Sum(result, 0, false)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over dimension: %v", err)
		}
	}

	// Sum dimensions that were broadcast up from size 1.
	for i := 0; i < len(targetShape) && i < len(result.Shape); i++ {
		if targetShape[i] == 1 && result.Shape[i] > 1 {
			result, err = Sum(result, i, true)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = Reshape(result, targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}

	return result, nil
}

// AddOp implements the Operation interface for tensor addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("add backward for input A: %v", err)
	}

	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("add backward for input B: %v", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// SubOp implements the Operation interface for tensor subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("sub backward for input A: %v", err)
	}

	negGrad, err := Neg(gradOut)
	if err != nil {
		return nil, fmt.Errorf("sub backward negation: %v", err)
	}
	gradB, err := reduceGradientToShape(negGrad, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("sub backward for input B: %v", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// MulOp implements the Operation interface for element-wise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, fmt.Errorf("mul backward for input A: %v", err)
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, fmt.Errorf("mul backward for input A: %v", err)
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, fmt.Errorf("mul backward for input B: %v", err)
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("mul backward for input B: %v", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// DivOp implements the Operation interface for element-wise division.
type DivOp struct {
	inputs []*Tensor
}

func (op *DivOp) Inputs() []*Tensor { return op.inputs }

func (op *DivOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := Div(gradOut, b)
	if err != nil {
		return nil, fmt.Errorf("div backward for input A: %v", err)
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, fmt.Errorf("div backward for input A: %v", err)
	}

	// d(a/b)/db = -a / b^2
	bsq, err := Mul(b, b)
	if err != nil {
		return nil, fmt.Errorf("div backward for input B: %v", err)
	}
	num, err := Mul(gradOut, a)
	if err != nil {
		return nil, fmt.Errorf("div backward for input B: %v", err)
	}
	quot, err := Div(num, bsq)
	if err != nil {
		return nil, fmt.Errorf("div backward for input B: %v", err)
	}
	negQuot, err := Neg(quot)
	if err != nil {
		return nil, fmt.Errorf("div backward for input B: %v", err)
	}
	gradB, err := reduceGradientToShape(negQuot, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("div backward for input B: %v", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// ScaleShiftOp implements the Operation interface for alpha*x + beta.
type ScaleShiftOp struct {
	inputs []*Tensor
	alpha  float64
}

func (op *ScaleShiftOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleShiftOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := ScaleShift(gradOut, op.alpha, 0)
	if err != nil {
		return nil, fmt.Errorf("scale-shift backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// ReLUOp implements the Operation interface for ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]

	grad, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("relu backward: %v", err)
	}

	inputData := a.Data.([]float64)
	gradData := grad.Data.([]float64)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}

	return []*Tensor{grad}, nil
}

// TanhOp implements the Operation interface for tanh activation. The output
// is retained because dtanh(x)/dx = 1 - tanh(x)^2.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ysq, err := Mul(op.output, op.output)
	if err != nil {
		return nil, fmt.Errorf("tanh backward: %v", err)
	}
	deriv, err := ScaleShift(ysq, -1, 1)
	if err != nil {
		return nil, fmt.Errorf("tanh backward: %v", err)
	}
	grad, err := Mul(gradOut, deriv)
	if err != nil {
		return nil, fmt.Errorf("tanh backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// SigmoidOp implements the Operation interface for sigmoid activation.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	oneMinus, err := ScaleShift(op.output, -1, 1)
	if err != nil {
		return nil, fmt.Errorf("sigmoid backward: %v", err)
	}
	deriv, err := Mul(op.output, oneMinus)
	if err != nil {
		return nil, fmt.Errorf("sigmoid backward: %v", err)
	}
	grad, err := Mul(gradOut, deriv)
	if err != nil {
		return nil, fmt.Errorf("sigmoid backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// ExpOp implements the Operation interface for element-wise exp.
type ExpOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *ExpOp) Inputs() []*Tensor { return op.inputs }

func (op *ExpOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Mul(gradOut, op.output)
	if err != nil {
		return nil, fmt.Errorf("exp backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// LogOp implements the Operation interface for element-wise natural log.
type LogOp struct {
	inputs []*Tensor
}

func (op *LogOp) Inputs() []*Tensor { return op.inputs }

func (op *LogOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Div(gradOut, op.inputs[0])
	if err != nil {
		return nil, fmt.Errorf("log backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// SoftplusOp implements the Operation interface for log(1 + exp(x)).
type SoftplusOp struct {
	inputs []*Tensor
}

func (op *SoftplusOp) Inputs() []*Tensor { return op.inputs }

func (op *SoftplusOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	deriv, err := Sigmoid(op.inputs[0])
	if err != nil {
		return nil, fmt.Errorf("softplus backward: %v", err)
	}
	grad, err := Mul(gradOut, deriv)
	if err != nil {
		return nil, fmt.Errorf("softplus backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// High-level autograd functions that run the forward computation and attach
// the operation to the result.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &AddOp{inputs: []*Tensor{a, b}}, anyRequiresGrad(a, b))
	return result, nil
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &SubOp{inputs: []*Tensor{a, b}}, anyRequiresGrad(a, b))
	return result, nil
}

// MulAutograd performs element-wise multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &MulOp{inputs: []*Tensor{a, b}}, anyRequiresGrad(a, b))
	return result, nil
}

// DivAutograd performs element-wise division with automatic differentiation.
func DivAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Div(a, b)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &DivOp{inputs: []*Tensor{a, b}}, anyRequiresGrad(a, b))
	return result, nil
}

// ScaleShiftAutograd computes alpha*x + beta with automatic differentiation.
func ScaleShiftAutograd(a *Tensor, alpha, beta float64) (*Tensor, error) {
	result, err := ScaleShift(a, alpha, beta)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &ScaleShiftOp{inputs: []*Tensor{a}, alpha: alpha}, a.requiresGrad)
	return result, nil
}

// NegAutograd negates a tensor with automatic differentiation.
func NegAutograd(a *Tensor) (*Tensor, error) {
	return ScaleShiftAutograd(a, -1, 0)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) (*Tensor, error) {
	result, err := ReLU(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &ReLUOp{inputs: []*Tensor{a}}, a.requiresGrad)
	return result, nil
}

// TanhAutograd performs tanh activation with automatic differentiation.
func TanhAutograd(a *Tensor) (*Tensor, error) {
	result, err := Tanh(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &TanhOp{inputs: []*Tensor{a}, output: result}, a.requiresGrad)
	return result, nil
}

// SigmoidAutograd performs sigmoid activation with automatic differentiation.
func SigmoidAutograd(a *Tensor) (*Tensor, error) {
	result, err := Sigmoid(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &SigmoidOp{inputs: []*Tensor{a}, output: result}, a.requiresGrad)
	return result, nil
}

// ExpAutograd performs element-wise exp with automatic differentiation.
func ExpAutograd(a *Tensor) (*Tensor, error) {
	result, err := Exp(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &ExpOp{inputs: []*Tensor{a}, output: result}, a.requiresGrad)
	return result, nil
}

// LogAutograd performs element-wise natural log with automatic differentiation.
func LogAutograd(a *Tensor) (*Tensor, error) {
	result, err := Log(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &LogOp{inputs: []*Tensor{a}}, a.requiresGrad)
	return result, nil
}

// SoftplusAutograd performs softplus with automatic differentiation.
func SoftplusAutograd(a *Tensor) (*Tensor, error) {
	result, err := Softplus(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &SoftplusOp{inputs: []*Tensor{a}}, a.requiresGrad)
	return result, nil
}
