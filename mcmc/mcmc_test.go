package mcmc

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/tensor"
)

// gaussianPotential returns the log density (up to a constant) of an
// isotropic normal centered at mean with the given standard deviation.
func gaussianPotential(mean []float64, sigma float64) Potential {
	return func(theta *tensor.Tensor) (*tensor.Tensor, error) {
		n, d := theta.Shape[0], theta.Shape[1]
		data := theta.Data.([]float64)
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < d; j++ {
				v := data[i*d+j] - mean[j]
				sum += v * v
			}
			out[i] = -0.5 * sum / (sigma * sigma)
		}
		return tensor.NewTensor([]int{n, 1}, tensor.Float64, out)
	}
}

func boxProposal(t *testing.T, low, high float64, seed uint64) dist.Distribution {
	t.Helper()
	prior, err := dist.NewBoxUniform([]float64{low}, []float64{high}, rand.NewSource(seed))
	if err != nil {
		t.Fatalf("Failed to create proposal: %v", err)
	}
	return prior
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"Defaults", Config{}.withDefaults(), false},
		{"Explicit MH", Config{Method: MethodMH, InitStrategy: InitLatestSample}, false},
		{"Unknown method", Config{Method: "hmc", InitStrategy: InitSIR}, true},
		{"Unknown init", Config{Method: MethodSlice, InitStrategy: "proposal"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
		})
	}

	t.Run("Defaults are filled in", func(t *testing.T) {
		c := Config{}.withDefaults()
		if c.NumChains != DefaultNumChains || c.Thin != DefaultThin || c.WarmupSteps != DefaultWarmupSteps {
			t.Errorf("Unexpected chain defaults: %+v", c)
		}
		if c.Method != MethodSlice || c.InitStrategy != InitSIR {
			t.Errorf("Unexpected method defaults: %+v", c)
		}
		if c.SIRNumBatches != DefaultSIRNumBatches || c.SIRBatchSize != DefaultSIRBatchSize {
			t.Errorf("Unexpected SIR defaults: %+v", c)
		}
	})
}

func TestSIRInit(t *testing.T) {
	potential := gaussianPotential([]float64{2}, 0.1)
	proposal := boxProposal(t, -5, 5, 21)
	rng := rand.New(rand.NewSource(22))

	for trial := 0; trial < 5; trial++ {
		pos, err := sirInit(potential, proposal, 10, 100, rng)
		if err != nil {
			t.Fatalf("sirInit failed: %v", err)
		}
		if len(pos) != 1 {
			t.Fatalf("Expected 1D position, got %d", len(pos))
		}
		if math.Abs(pos[0]-2) > 0.5 {
			t.Errorf("Expected start near the mode at 2, got %v", pos[0])
		}
	}
}

func TestSliceSamplerRecoversGaussian(t *testing.T) {
	potential := gaussianPotential([]float64{1.5}, 1)
	proposal := boxProposal(t, -5, 5, 31)

	cfg := Config{
		Method:        MethodSlice,
		NumChains:     2,
		Thin:          2,
		WarmupSteps:   20,
		InitStrategy:  InitSIR,
		SIRNumBatches: 2,
		SIRBatchSize:  50,
	}
	posterior, err := NewPosterior(potential, proposal, cfg, rand.NewSource(32))
	if err != nil {
		t.Fatalf("Failed to create posterior: %v", err)
	}

	samples, err := posterior.Sample(400)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if samples.Shape[0] != 400 || samples.Shape[1] != 1 {
		t.Fatalf("Expected shape [400 1], got %v", samples.Shape)
	}

	draws := samples.Data.([]float64)
	mean := stat.Mean(draws, nil)
	sd := stat.StdDev(draws, nil)
	if math.Abs(mean-1.5) > 0.25 {
		t.Errorf("Expected mean near 1.5, got %v", mean)
	}
	if math.Abs(sd-1) > 0.25 {
		t.Errorf("Expected standard deviation near 1, got %v", sd)
	}

	latest := posterior.LatestSample()
	if latest == nil {
		t.Fatal("Expected stored chain states after sampling")
	}
	if latest.Shape[0] != 2 || latest.Shape[1] != 1 {
		t.Errorf("Expected chain states of shape [2 1], got %v", latest.Shape)
	}
}

func TestMHSamplerRecoversGaussian(t *testing.T) {
	potential := gaussianPotential([]float64{0.5}, 1)
	proposal := boxProposal(t, -5, 5, 41)

	cfg := Config{
		Method:        MethodMH,
		NumChains:     2,
		Thin:          5,
		WarmupSteps:   100,
		InitStrategy:  InitSIR,
		SIRNumBatches: 2,
		SIRBatchSize:  50,
		MHStepSize:    1.0,
	}
	posterior, err := NewPosterior(potential, proposal, cfg, rand.NewSource(42))
	if err != nil {
		t.Fatalf("Failed to create posterior: %v", err)
	}

	samples, err := posterior.Sample(400)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	draws := samples.Data.([]float64)
	mean := stat.Mean(draws, nil)
	if math.Abs(mean-0.5) > 0.3 {
		t.Errorf("Expected mean near 0.5, got %v", mean)
	}
}

func TestLatestSampleInit(t *testing.T) {
	potential := gaussianPotential([]float64{0}, 1)
	proposal := boxProposal(t, -5, 5, 51)

	first, err := NewPosterior(potential, proposal, Config{
		NumChains: 3, Thin: 1, WarmupSteps: 5,
		SIRNumBatches: 2, SIRBatchSize: 20,
	}, rand.NewSource(52))
	if err != nil {
		t.Fatalf("Failed to create posterior: %v", err)
	}
	if _, err := first.Sample(30); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	second, err := NewPosterior(potential, proposal, Config{
		NumChains: 3, Thin: 1, WarmupSteps: 5,
		InitStrategy: InitLatestSample,
	}, rand.NewSource(53))
	if err != nil {
		t.Fatalf("Failed to create posterior: %v", err)
	}

	t.Run("Fails without stored states", func(t *testing.T) {
		if _, err := second.Sample(10); err == nil {
			t.Error("Expected error before chain states are copied")
		}
	})

	t.Run("Resumes from copied states", func(t *testing.T) {
		if err := second.CopyHyperparameters(first); err != nil {
			t.Fatalf("CopyHyperparameters failed: %v", err)
		}
		samples, err := second.Sample(12)
		if err != nil {
			t.Fatalf("Sample after warm start failed: %v", err)
		}
		if samples.Shape[0] != 12 || samples.Shape[1] != 1 {
			t.Errorf("Expected shape [12 1], got %v", samples.Shape)
		}
	})

	t.Run("Copying from an empty posterior is a no-op", func(t *testing.T) {
		fresh, err := NewPosterior(potential, proposal, Config{NumChains: 2}, rand.NewSource(54))
		if err != nil {
			t.Fatalf("Failed to create posterior: %v", err)
		}
		if err := second.CopyHyperparameters(fresh); err != nil {
			t.Fatalf("Expected no-op copy, got error: %v", err)
		}
	})
}

func TestPosteriorErrors(t *testing.T) {
	potential := gaussianPotential([]float64{0}, 1)
	proposal := boxProposal(t, -1, 1, 61)

	t.Run("Missing potential", func(t *testing.T) {
		if _, err := NewPosterior(nil, proposal, Config{}, rand.NewSource(1)); err == nil {
			t.Error("Expected error for nil potential")
		}
	})

	t.Run("Missing proposal", func(t *testing.T) {
		if _, err := NewPosterior(potential, nil, Config{}, rand.NewSource(1)); err == nil {
			t.Error("Expected error for nil proposal")
		}
	})

	t.Run("Invalid config", func(t *testing.T) {
		if _, err := NewPosterior(potential, proposal, Config{Method: "hmc"}, rand.NewSource(1)); err == nil {
			t.Error("Expected error for unknown method")
		}
	})

	t.Run("Non-positive sample count", func(t *testing.T) {
		p, err := NewPosterior(potential, proposal, Config{
			NumChains: 1, Thin: 1, WarmupSteps: 1,
			SIRNumBatches: 1, SIRBatchSize: 10,
		}, rand.NewSource(1))
		if err != nil {
			t.Fatalf("Failed to create posterior: %v", err)
		}
		if _, err := p.Sample(0); err == nil {
			t.Error("Expected error for zero samples")
		}
	})
}
