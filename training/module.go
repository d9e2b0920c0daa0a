package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-sbi/tensor"
)

// Global random source for deterministic initialization and shuffling
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and data shuffling
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	// Initialize weights using Xavier/Glorot uniform initialization
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float64, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = (globalRng.Float64()*2.0 - 1.0) * bound
	}

	// Weight shape is [inputSize, outputSize] so the forward pass is input @ weight
	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float64, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		// Initialize bias to zeros
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float64)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}

	inputSize := input.Shape[1]

	if inputSize != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], inputSize)
	}

	output, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("weight multiplication failed: %v", err)
	}

	if l.bias != nil {
		// AddAutograd broadcasts the 1D bias across the batch
		output, err = tensor.AddAutograd(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}

	return output, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// InputSize returns the expected input width.
func (l *Linear) InputSize() int {
	return l.weight.Shape[0]
}

// OutputSize returns the produced output width.
func (l *Linear) OutputSize() int {
	return l.weight.Shape[1]
}

// ReLU implements ReLU activation function module
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward performs ReLU activation
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

// Train sets the module to training mode
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode
func (r *ReLU) Eval() {
	r.training = false
}

// IsTraining returns true if in training mode
func (r *ReLU) IsTraining() bool {
	return r.training
}

// Tanh implements tanh activation function module
type Tanh struct {
	training bool
}

// NewTanh creates a new Tanh activation module
func NewTanh() *Tanh {
	return &Tanh{training: true}
}

// Forward performs tanh activation
func (a *Tanh) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.TanhAutograd(input)
}

// Parameters returns empty slice (Tanh has no parameters)
func (a *Tanh) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

// Train sets the module to training mode
func (a *Tanh) Train() {
	a.training = true
}

// Eval sets the module to evaluation mode
func (a *Tanh) Eval() {
	a.training = false
}

// IsTraining returns true if in training mode
func (a *Tanh) IsTraining() bool {
	return a.training
}

// Sequential allows chaining multiple modules together
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}

	return output, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var allParams []*tensor.Tensor
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Residual wraps an inner module with a skip connection: y = x + inner(x).
// The inner module must preserve the input width.
type Residual struct {
	inner    Module
	training bool
}

// NewResidual creates a residual block around an inner module
func NewResidual(inner Module) *Residual {
	return &Residual{inner: inner, training: true}
}

// Forward computes x + inner(x)
func (r *Residual) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := r.inner.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("residual inner forward failed: %v", err)
	}
	return tensor.AddAutograd(input, out)
}

// Parameters returns the inner module's trainable parameters
func (r *Residual) Parameters() []*tensor.Tensor {
	return r.inner.Parameters()
}

// Train sets the module to training mode
func (r *Residual) Train() {
	r.training = true
	r.inner.Train()
}

// Eval sets the module to evaluation mode
func (r *Residual) Eval() {
	r.training = false
	r.inner.Eval()
}

// IsTraining returns true if in training mode
func (r *Residual) IsTraining() bool {
	return r.training
}

// CloneModule deep-copies a module built from this package's layer types.
// The clone owns fresh parameter buffers, so training the original leaves
// the clone untouched.
func CloneModule(m Module) (Module, error) {
	switch v := m.(type) {
	case *Linear:
		clone, err := NewLinear(v.InputSize(), v.OutputSize(), v.bias != nil)
		if err != nil {
			return nil, fmt.Errorf("failed to clone linear layer: %v", err)
		}
		if err := clone.weight.SetData(v.weight.Data); err != nil {
			return nil, fmt.Errorf("failed to copy weights: %v", err)
		}
		if v.bias != nil {
			if err := clone.bias.SetData(v.bias.Data); err != nil {
				return nil, fmt.Errorf("failed to copy bias: %v", err)
			}
		}
		clone.training = v.training
		return clone, nil
	case *ReLU:
		return NewReLU(), nil
	case *Tanh:
		return NewTanh(), nil
	case *Sequential:
		clones := make([]Module, len(v.modules))
		for i, child := range v.modules {
			c, err := CloneModule(child)
			if err != nil {
				return nil, err
			}
			clones[i] = c
		}
		clone := NewSequential(clones...)
		clone.training = v.training
		return clone, nil
	case *Residual:
		inner, err := CloneModule(v.inner)
		if err != nil {
			return nil, err
		}
		clone := NewResidual(inner)
		clone.training = v.training
		return clone, nil
	default:
		return nil, fmt.Errorf("cannot clone module of type %T", m)
	}
}

// MLP builds a Sequential of Linear layers with the given activation between
// hidden layers and no activation on the output.
func MLP(inputSize int, hiddenSizes []int, outputSize int, activation func() Module) (*Sequential, error) {
	seq := NewSequential()

	prev := inputSize
	for _, h := range hiddenSizes {
		layer, err := NewLinear(prev, h, true)
		if err != nil {
			return nil, err
		}
		seq.Add(layer)
		seq.Add(activation())
		prev = h
	}

	out, err := NewLinear(prev, outputSize, true)
	if err != nil {
		return nil, err
	}
	seq.Add(out)

	return seq, nil
}
