// Package flows implements conditional normalizing flows: invertible maps
// between a parameter or observation space and a standard normal base
// distribution, with every layer conditioned on a context vector. Flows are
// built from affine coupling layers separated by reverse permutations, and
// expose exact log-densities alongside sampling.
package flows

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// Config describes a flow architecture. Embedding optionally maps the raw
// context through a trainable network before it reaches the coupling layers;
// EmbeddingDim must then give that network's output width.
type Config struct {
	Dim          int
	ContextDim   int
	NumLayers    int
	HiddenSizes  []int
	Clamp        float64
	Embedding    training.Module
	EmbeddingDim int
}

// Validate checks the architecture parameters
func (c *Config) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("feature dimension must be positive, got %d", c.Dim)
	}
	if c.ContextDim < 1 {
		return fmt.Errorf("context dimension must be positive, got %d", c.ContextDim)
	}
	if c.NumLayers < 1 {
		return fmt.Errorf("layer count must be positive, got %d", c.NumLayers)
	}
	if c.Embedding != nil && c.EmbeddingDim < 1 {
		return fmt.Errorf("embedding output dimension must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

// Flow is a conditional normalizing flow over a standard normal base.
// Forward transforms map data to base space; sampling runs the inverse.
type Flow struct {
	cfg        Config
	transforms []Transform
	embedding  training.Module
	base       standardNormal
	rng        *rand.Rand
}

// NewFlow builds a coupling flow from the architecture config. Each coupling
// layer transforms the first half of the feature columns conditioned on the
// rest plus the context; reverse permutations between layers rotate which
// columns get transformed. Base-space sampling draws from src.
func NewFlow(cfg Config, src rand.Source) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow config: %v", err)
	}

	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{50, 50}
	}
	if cfg.Clamp <= 0 {
		cfg.Clamp = DefaultClamp
	}

	condWidth := cfg.ContextDim
	if cfg.Embedding != nil {
		condWidth = cfg.EmbeddingDim
	}

	nActive := (cfg.Dim + 1) / 2
	activeCols := make([]int, nActive)
	for i := range activeCols {
		activeCols[i] = i
	}

	var transforms []Transform
	for layer := 0; layer < cfg.NumLayers; layer++ {
		coupling, err := NewAffineCoupling(cfg.Dim, condWidth, activeCols, cfg.HiddenSizes, cfg.Clamp)
		if err != nil {
			return nil, fmt.Errorf("failed to build coupling layer %d: %v", layer, err)
		}
		transforms = append(transforms, coupling)

		if cfg.Dim >= 2 && layer < cfg.NumLayers-1 {
			perm, err := NewReversePermutation(cfg.Dim)
			if err != nil {
				return nil, fmt.Errorf("failed to build permutation %d: %v", layer, err)
			}
			transforms = append(transforms, perm)
		}
	}

	return &Flow{
		cfg:        cfg,
		transforms: transforms,
		embedding:  cfg.Embedding,
		base:       standardNormal{dim: cfg.Dim},
		rng:        rand.New(src),
	}, nil
}

// Dim returns the feature dimension
func (f *Flow) Dim() int {
	return f.cfg.Dim
}

// ContextDim returns the raw context width expected before any embedding
func (f *Flow) ContextDim() int {
	return f.cfg.ContextDim
}

// Config returns the architecture parameters the flow was built with
func (f *Flow) Config() Config {
	return f.cfg
}

// Parameters returns every trainable tensor: coupling conditioners first,
// then the embedding network if present.
func (f *Flow) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, tr := range f.transforms {
		params = append(params, tr.Parameters()...)
	}
	if f.embedding != nil {
		params = append(params, f.embedding.Parameters()...)
	}
	return params
}

// embedContext validates the context batch, tiles a single row up to the
// required count, and applies the embedding network. Tiling happens before
// the embedding so its parameters receive per-row gradients.
func (f *Flow) embedContext(context *tensor.Tensor, rows int) (*tensor.Tensor, error) {
	if context == nil {
		return nil, fmt.Errorf("flow requires a conditioning context")
	}
	if len(context.Shape) != 2 || context.Shape[1] != f.cfg.ContextDim {
		return nil, fmt.Errorf("context must have shape [n %d], got %v", f.cfg.ContextDim, context.Shape)
	}

	expanded := context
	if context.Shape[0] != rows {
		if context.Shape[0] != 1 {
			return nil, fmt.Errorf("context rows %d do not match batch rows %d", context.Shape[0], rows)
		}
		var err error
		expanded, err = tensor.RepeatRows(context, rows)
		if err != nil {
			return nil, fmt.Errorf("context tiling failed: %v", err)
		}
	}

	if f.embedding == nil {
		return expanded, nil
	}

	embedded, err := f.embedding.Forward(expanded)
	if err != nil {
		return nil, fmt.Errorf("context embedding failed: %v", err)
	}
	return embedded, nil
}

// LogProb evaluates the per-row log-density of inputs under the flow
// conditioned on context, shape [n, 1]. A single context row is tiled across
// the batch.
func (f *Flow) LogProb(inputs, context *tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs.Shape) != 2 || inputs.Shape[1] != f.cfg.Dim {
		return nil, fmt.Errorf("inputs must have shape [n %d], got %v", f.cfg.Dim, inputs.Shape)
	}
	n := inputs.Shape[0]
	if n == 0 {
		return nil, fmt.Errorf("inputs batch is empty")
	}

	embedded, err := f.embedContext(context, n)
	if err != nil {
		return nil, err
	}

	z := inputs
	total, err := tensor.Zeros([]int{n, 1}, tensor.Float64)
	if err != nil {
		return nil, err
	}
	for _, tr := range f.transforms {
		var logAbsDet *tensor.Tensor
		z, logAbsDet, err = tr.Forward(z, embedded)
		if err != nil {
			return nil, fmt.Errorf("forward transform failed: %v", err)
		}
		total, err = tensor.AddAutograd(total, logAbsDet)
		if err != nil {
			return nil, err
		}
	}

	baseLogProb, err := f.base.logProb(z)
	if err != nil {
		return nil, fmt.Errorf("base density evaluation failed: %v", err)
	}

	return tensor.AddAutograd(baseLogProb, total)
}

// Sample draws n rows from the flow conditioned on context. The result
// carries the autograd graph of the inverse pass; callers that feed samples
// back into training should Detach them first.
func (f *Flow) Sample(n int, context *tensor.Tensor) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	noise, err := f.base.sample(n, f.rng)
	if err != nil {
		return nil, err
	}

	samples, _, err := f.InverseWithLogDet(noise, context)
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// SampleBaseWithLogProb draws n base-space rows together with their base
// log-densities. Both results are plain value tensors.
func (f *Flow) SampleBaseWithLogProb(n int) (*tensor.Tensor, *tensor.Tensor, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	return f.base.sampleWithLogProb(n, f.rng)
}

// InverseWithLogDet pushes base-space rows through the inverse transform
// stack under the given context, returning the data-space rows and the
// per-row log-abs-det of the inverse map. Gradients flow into the coupling
// conditioners and the embedding network.
func (f *Flow) InverseWithLogDet(noise, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(noise.Shape) != 2 || noise.Shape[1] != f.cfg.Dim {
		return nil, nil, fmt.Errorf("noise must have shape [n %d], got %v", f.cfg.Dim, noise.Shape)
	}
	n := noise.Shape[0]
	if n == 0 {
		return nil, nil, fmt.Errorf("noise batch is empty")
	}

	embedded, err := f.embedContext(context, n)
	if err != nil {
		return nil, nil, err
	}

	x := noise
	total, err := tensor.Zeros([]int{n, 1}, tensor.Float64)
	if err != nil {
		return nil, nil, err
	}
	for i := len(f.transforms) - 1; i >= 0; i-- {
		var logAbsDet *tensor.Tensor
		x, logAbsDet, err = f.transforms[i].Inverse(x, embedded)
		if err != nil {
			return nil, nil, fmt.Errorf("inverse transform failed: %v", err)
		}
		total, err = tensor.AddAutograd(total, logAbsDet)
		if err != nil {
			return nil, nil, err
		}
	}

	return x, total, nil
}

// Clone deep-copies the flow: every coupling conditioner and the embedding
// network get freshly owned parameter buffers, so later training steps on
// the original leave the clone untouched. The random source is shared.
func (f *Flow) Clone() (*Flow, error) {
	transforms := make([]Transform, len(f.transforms))
	for i, tr := range f.transforms {
		c, err := tr.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone transform %d: %v", i, err)
		}
		transforms[i] = c
	}

	var embedding training.Module
	if f.embedding != nil {
		var err error
		embedding, err = training.CloneModule(f.embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to clone embedding: %v", err)
		}
	}

	cfg := f.cfg
	cfg.Embedding = embedding

	return &Flow{
		cfg:        cfg,
		transforms: transforms,
		embedding:  embedding,
		base:       f.base,
		rng:        f.rng,
	}, nil
}
