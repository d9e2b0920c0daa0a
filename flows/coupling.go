package flows

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// DefaultClamp bounds the log-scales of affine coupling layers. Scales stay
// within [exp(-clamp), exp(+clamp)], which keeps both directions of the
// transform numerically stable.
const DefaultClamp = 3.0

// AffineCoupling transforms a subset of feature columns with an elementwise
// affine map whose scale and shift are predicted from the remaining columns
// and the conditioning context. The passive columns pass through unchanged,
// which makes the layer invertible in closed form.
type AffineCoupling struct {
	dim         int
	activeCols  []int
	passiveCols []int
	conditioner training.Module
	clamp       float64

	scaleCols []int
	shiftCols []int
}

// NewAffineCoupling creates a coupling layer over dim feature columns with
// the given active set. The conditioner is an MLP taking the passive columns
// concatenated with the context (contextDim wide after any embedding) and
// producing a raw scale and a shift per active column. A single-column flow
// has no passive columns, so the conditioner sees the context alone.
func NewAffineCoupling(dim, contextDim int, activeCols []int, hiddenSizes []int, clamp float64) (*AffineCoupling, error) {
	if dim < 1 {
		return nil, fmt.Errorf("feature dimension must be positive, got %d", dim)
	}
	if contextDim < 1 {
		return nil, fmt.Errorf("context dimension must be positive, got %d", contextDim)
	}
	if len(activeCols) == 0 {
		return nil, fmt.Errorf("coupling layer needs at least one active column")
	}

	active := make([]bool, dim)
	for _, c := range activeCols {
		if c < 0 || c >= dim {
			return nil, fmt.Errorf("active column %d out of range for dimension %d", c, dim)
		}
		if active[c] {
			return nil, fmt.Errorf("active column %d repeated", c)
		}
		active[c] = true
	}

	var passiveCols []int
	for c := 0; c < dim; c++ {
		if !active[c] {
			passiveCols = append(passiveCols, c)
		}
	}

	if clamp <= 0 {
		clamp = DefaultClamp
	}

	nActive := len(activeCols)
	conditioner, err := training.MLP(len(passiveCols)+contextDim, hiddenSizes, 2*nActive, func() training.Module { return training.NewTanh() })
	if err != nil {
		return nil, fmt.Errorf("failed to build conditioner: %v", err)
	}

	scaleCols := make([]int, nActive)
	shiftCols := make([]int, nActive)
	for i := 0; i < nActive; i++ {
		scaleCols[i] = i
		shiftCols[i] = nActive + i
	}

	return &AffineCoupling{
		dim:         dim,
		activeCols:  append([]int(nil), activeCols...),
		passiveCols: passiveCols,
		conditioner: conditioner,
		clamp:       clamp,
		scaleCols:   scaleCols,
		shiftCols:   shiftCols,
	}, nil
}

// scaleAndShift runs the conditioner on the passive columns and context,
// returning the clamped log-scale s = clamp*tanh(raw/clamp) and the shift.
func (c *AffineCoupling) scaleAndShift(passive, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if context == nil {
		return nil, nil, fmt.Errorf("coupling layer requires a conditioning context")
	}

	condIn := context
	if passive != nil {
		var err error
		condIn, err = tensor.ConcatAutograd([]*tensor.Tensor{passive, context}, 1)
		if err != nil {
			return nil, nil, fmt.Errorf("conditioner input assembly failed: %v", err)
		}
	}

	h, err := c.conditioner.Forward(condIn)
	if err != nil {
		return nil, nil, fmt.Errorf("conditioner forward failed: %v", err)
	}

	rawScale, err := tensor.SelectColumnsAutograd(h, c.scaleCols)
	if err != nil {
		return nil, nil, err
	}
	shift, err := tensor.SelectColumnsAutograd(h, c.shiftCols)
	if err != nil {
		return nil, nil, err
	}

	scaled, err := tensor.ScaleShiftAutograd(rawScale, 1.0/c.clamp, 0)
	if err != nil {
		return nil, nil, err
	}
	bounded, err := tensor.TanhAutograd(scaled)
	if err != nil {
		return nil, nil, err
	}
	s, err := tensor.ScaleShiftAutograd(bounded, c.clamp, 0)
	if err != nil {
		return nil, nil, err
	}

	return s, shift, nil
}

func (c *AffineCoupling) split(inputs *tensor.Tensor) (passive, active *tensor.Tensor, err error) {
	if len(inputs.Shape) != 2 || inputs.Shape[1] != c.dim {
		return nil, nil, fmt.Errorf("coupling layer over %d columns cannot apply to shape %v", c.dim, inputs.Shape)
	}

	if len(c.passiveCols) > 0 {
		passive, err = tensor.SelectColumnsAutograd(inputs, c.passiveCols)
		if err != nil {
			return nil, nil, err
		}
	}
	active, err = tensor.SelectColumnsAutograd(inputs, c.activeCols)
	if err != nil {
		return nil, nil, err
	}
	return passive, active, nil
}

func (c *AffineCoupling) join(passive, active *tensor.Tensor) (*tensor.Tensor, error) {
	if passive == nil {
		return tensor.JoinColumnsAutograd(c.dim, []*tensor.Tensor{active}, [][]int{c.activeCols})
	}
	return tensor.JoinColumnsAutograd(c.dim, []*tensor.Tensor{passive, active}, [][]int{c.passiveCols, c.activeCols})
}

// Forward applies active' = active*exp(s) + shift. The log-abs-det is the
// row sum of s.
func (c *AffineCoupling) Forward(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	passive, active, err := c.split(inputs)
	if err != nil {
		return nil, nil, err
	}

	s, shift, err := c.scaleAndShift(passive, context)
	if err != nil {
		return nil, nil, err
	}

	expS, err := tensor.ExpAutograd(s)
	if err != nil {
		return nil, nil, err
	}
	scaledActive, err := tensor.MulAutograd(active, expS)
	if err != nil {
		return nil, nil, err
	}
	outActive, err := tensor.AddAutograd(scaledActive, shift)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := c.join(passive, outActive)
	if err != nil {
		return nil, nil, err
	}

	logAbsDet, err := tensor.SumAutograd(s, 1, true)
	if err != nil {
		return nil, nil, err
	}

	return outputs, logAbsDet, nil
}

// Inverse applies active' = (active - shift)*exp(-s). The log-abs-det is the
// negated row sum of s.
func (c *AffineCoupling) Inverse(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	passive, active, err := c.split(inputs)
	if err != nil {
		return nil, nil, err
	}

	s, shift, err := c.scaleAndShift(passive, context)
	if err != nil {
		return nil, nil, err
	}

	centered, err := tensor.SubAutograd(active, shift)
	if err != nil {
		return nil, nil, err
	}
	negS, err := tensor.NegAutograd(s)
	if err != nil {
		return nil, nil, err
	}
	expNegS, err := tensor.ExpAutograd(negS)
	if err != nil {
		return nil, nil, err
	}
	outActive, err := tensor.MulAutograd(centered, expNegS)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := c.join(passive, outActive)
	if err != nil {
		return nil, nil, err
	}

	sumS, err := tensor.SumAutograd(s, 1, true)
	if err != nil {
		return nil, nil, err
	}
	logAbsDet, err := tensor.NegAutograd(sumS)
	if err != nil {
		return nil, nil, err
	}

	return outputs, logAbsDet, nil
}

// Parameters returns the conditioner's trainable parameters
func (c *AffineCoupling) Parameters() []*tensor.Tensor {
	return c.conditioner.Parameters()
}

// Clone deep-copies the layer including the conditioner weights
func (c *AffineCoupling) Clone() (Transform, error) {
	conditioner, err := training.CloneModule(c.conditioner)
	if err != nil {
		return nil, fmt.Errorf("failed to clone conditioner: %v", err)
	}

	return &AffineCoupling{
		dim:         c.dim,
		activeCols:  append([]int(nil), c.activeCols...),
		passiveCols: append([]int(nil), c.passiveCols...),
		conditioner: conditioner,
		clamp:       c.clamp,
		scaleCols:   append([]int(nil), c.scaleCols...),
		shiftCols:   append([]int(nil), c.shiftCols...),
	}, nil
}
