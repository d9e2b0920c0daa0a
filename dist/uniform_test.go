package dist

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/tensor"
)

func mustRows(t *testing.T, rows [][]float64) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.FromRows(rows)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	return tt
}

func TestNewBoxUniform(t *testing.T) {
	t.Run("Valid construction", func(t *testing.T) {
		box, err := NewBoxUniform([]float64{-1, -1}, []float64{1, 1}, rand.NewSource(1))
		if err != nil {
			t.Fatalf("Failed to create box uniform: %v", err)
		}
		if box.Dim() != 2 {
			t.Errorf("Expected dimension 2, got %d", box.Dim())
		}
	})

	t.Run("Empty bounds", func(t *testing.T) {
		_, err := NewBoxUniform(nil, nil, rand.NewSource(1))
		if err == nil {
			t.Error("Expected error for empty bounds")
		}
	})

	t.Run("Mismatched lengths", func(t *testing.T) {
		_, err := NewBoxUniform([]float64{0, 0}, []float64{1}, rand.NewSource(1))
		if err == nil {
			t.Error("Expected error for mismatched bound lengths")
		}
	})

	t.Run("Inverted bounds", func(t *testing.T) {
		_, err := NewBoxUniform([]float64{0, 2}, []float64{1, 1}, rand.NewSource(1))
		if err == nil {
			t.Error("Expected error for low >= high")
		}
	})

	t.Run("Bounds are copied", func(t *testing.T) {
		low := []float64{0, 0}
		high := []float64{1, 1}
		box, err := NewBoxUniform(low, high, rand.NewSource(1))
		if err != nil {
			t.Fatalf("Failed to create box uniform: %v", err)
		}
		low[0] = -100
		if box.Low[0] != 0 {
			t.Errorf("Expected stored bound 0, got %v", box.Low[0])
		}
	})
}

func TestBoxUniformSample(t *testing.T) {
	box, err := NewBoxUniform([]float64{-2, 0}, []float64{-1, 3}, rand.NewSource(42))
	if err != nil {
		t.Fatalf("Failed to create box uniform: %v", err)
	}

	t.Run("Shape and bounds", func(t *testing.T) {
		samples, err := box.Sample(100)
		if err != nil {
			t.Fatalf("Sampling failed: %v", err)
		}
		if samples.Shape[0] != 100 || samples.Shape[1] != 2 {
			t.Errorf("Expected shape [100 2], got %v", samples.Shape)
		}

		data := samples.Data.([]float64)
		for i := 0; i < 100; i++ {
			if data[i*2] < -2 || data[i*2] > -1 {
				t.Errorf("Sample %d dimension 0 out of bounds: %v", i, data[i*2])
			}
			if data[i*2+1] < 0 || data[i*2+1] > 3 {
				t.Errorf("Sample %d dimension 1 out of bounds: %v", i, data[i*2+1])
			}
		}
	})

	t.Run("Seeded sampling is deterministic", func(t *testing.T) {
		first, err := NewBoxUniform([]float64{0}, []float64{1}, rand.NewSource(7))
		if err != nil {
			t.Fatalf("Failed to create box uniform: %v", err)
		}
		second, err := NewBoxUniform([]float64{0}, []float64{1}, rand.NewSource(7))
		if err != nil {
			t.Fatalf("Failed to create box uniform: %v", err)
		}

		a, err := first.Sample(10)
		if err != nil {
			t.Fatalf("Sampling failed: %v", err)
		}
		b, err := second.Sample(10)
		if err != nil {
			t.Fatalf("Sampling failed: %v", err)
		}

		aData := a.Data.([]float64)
		bData := b.Data.([]float64)
		for i := range aData {
			if aData[i] != bData[i] {
				t.Errorf("Sample %d differs between identical seeds: %v vs %v", i, aData[i], bData[i])
			}
		}
	})

	t.Run("Invalid sample count", func(t *testing.T) {
		_, err := box.Sample(0)
		if err == nil {
			t.Error("Expected error for zero sample count")
		}
	})
}

func TestBoxUniformLogProb(t *testing.T) {
	// Volume is 1 * 2 = 2, so the inside density is -log(2)
	box, err := NewBoxUniform([]float64{0, 0}, []float64{1, 2}, rand.NewSource(1))
	if err != nil {
		t.Fatalf("Failed to create box uniform: %v", err)
	}

	t.Run("Inside support", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{0.5, 1.0}, {0.1, 1.9}})
		logProb, err := box.LogProb(theta)
		if err != nil {
			t.Fatalf("LogProb failed: %v", err)
		}
		if logProb.Shape[0] != 2 || logProb.Shape[1] != 1 {
			t.Errorf("Expected shape [2 1], got %v", logProb.Shape)
		}

		expected := -math.Log(2)
		data := logProb.Data.([]float64)
		for i, v := range data {
			if math.Abs(v-expected) > 1e-10 {
				t.Errorf("Row %d: expected %v, got %v", i, expected, v)
			}
		}
	})

	t.Run("Outside support", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{1.5, 1.0}, {0.5, -0.1}, {0.5, 1.0}})
		logProb, err := box.LogProb(theta)
		if err != nil {
			t.Fatalf("LogProb failed: %v", err)
		}

		data := logProb.Data.([]float64)
		if !math.IsInf(data[0], -1) {
			t.Errorf("Expected -Inf for row outside dimension 0, got %v", data[0])
		}
		if !math.IsInf(data[1], -1) {
			t.Errorf("Expected -Inf for row outside dimension 1, got %v", data[1])
		}
		if math.IsInf(data[2], -1) {
			t.Errorf("Expected finite log-probability for inside row, got %v", data[2])
		}
	})

	t.Run("Wrong batch shape", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{0.5, 1.0, 2.0}})
		if _, err := box.LogProb(theta); err == nil {
			t.Error("Expected error for mismatched dimension")
		}
	})
}
