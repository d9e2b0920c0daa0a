package transforms

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
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

func TestLogitTransform(t *testing.T) {
	logit, err := NewLogit([]float64{-1, 0}, []float64{1, 2})
	if err != nil {
		t.Fatalf("Failed to create logit transform: %v", err)
	}

	t.Run("Round trip", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{-0.5, 0.3}, {0.9, 1.7}, {0.0, 1.0}})
		z, err := logit.Forward(theta)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		back, err := logit.Inverse(z)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}

		thetaData := theta.Data.([]float64)
		backData := back.Data.([]float64)
		for i := range thetaData {
			if math.Abs(backData[i]-thetaData[i]) > 1e-10 {
				t.Errorf("Element %d: expected %v, got %v", i, thetaData[i], backData[i])
			}
		}
	})

	t.Run("Center maps to zero", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{0, 1}})
		z, err := logit.Forward(theta)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		for i, v := range z.Data.([]float64) {
			if math.Abs(v) > 1e-12 {
				t.Errorf("Element %d: expected 0, got %v", i, v)
			}
		}
	})

	t.Run("Jacobian matches finite differences", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{-0.3, 0.8}})
		logAbsDet, err := logit.LogAbsDetJacobian(theta)
		if err != nil {
			t.Fatalf("LogAbsDetJacobian failed: %v", err)
		}

		h := 1e-6
		numeric := 0.0
		base := []float64{-0.3, 0.8}
		for j := 0; j < 2; j++ {
			plus := append([]float64(nil), base...)
			minus := append([]float64(nil), base...)
			plus[j] += h
			minus[j] -= h

			zPlus, err := logit.Forward(mustRows(t, [][]float64{plus}))
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			zMinus, err := logit.Forward(mustRows(t, [][]float64{minus}))
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}

			deriv := (zPlus.Data.([]float64)[j] - zMinus.Data.([]float64)[j]) / (2 * h)
			numeric += math.Log(math.Abs(deriv))
		}

		got := logAbsDet.Data.([]float64)[0]
		if math.Abs(got-numeric) > 1e-5 {
			t.Errorf("Expected %v, got %v", numeric, got)
		}
	})

	t.Run("Invalid bounds", func(t *testing.T) {
		if _, err := NewLogit([]float64{0}, []float64{0}); err == nil {
			t.Error("Expected error for empty box")
		}
		if _, err := NewLogit([]float64{0, 1}, []float64{1}); err == nil {
			t.Error("Expected error for mismatched bounds")
		}
	})
}

func TestAffineTransform(t *testing.T) {
	affine, err := NewAffine([]float64{1, -2}, []float64{2, 0.5})
	if err != nil {
		t.Fatalf("Failed to create affine transform: %v", err)
	}

	t.Run("Known values", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{3, -1.5}})
		z, err := affine.Forward(theta)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		expected := []float64{1, 1}
		for i, want := range expected {
			if math.Abs(z.Data.([]float64)[i]-want) > 1e-12 {
				t.Errorf("Element %d: expected %v, got %v", i, want, z.Data.([]float64)[i])
			}
		}
	})

	t.Run("Round trip", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{0.7, -3.2}, {5.0, 0.1}})
		z, err := affine.Forward(theta)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		back, err := affine.Inverse(z)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}

		thetaData := theta.Data.([]float64)
		backData := back.Data.([]float64)
		for i := range thetaData {
			if math.Abs(backData[i]-thetaData[i]) > 1e-12 {
				t.Errorf("Element %d: expected %v, got %v", i, thetaData[i], backData[i])
			}
		}
	})

	t.Run("Constant Jacobian", func(t *testing.T) {
		theta := mustRows(t, [][]float64{{0, 0}, {10, 10}})
		logAbsDet, err := affine.LogAbsDetJacobian(theta)
		if err != nil {
			t.Fatalf("LogAbsDetJacobian failed: %v", err)
		}

		// -log(2) - log(0.5) = 0
		for i, v := range logAbsDet.Data.([]float64) {
			if math.Abs(v) > 1e-12 {
				t.Errorf("Row %d: expected 0, got %v", i, v)
			}
		}
	})

	t.Run("Invalid scale", func(t *testing.T) {
		if _, err := NewAffine([]float64{0}, []float64{-1}); err == nil {
			t.Error("Expected error for negative scale")
		}
	})
}

func TestIdentityTransform(t *testing.T) {
	identity, err := NewIdentity(2)
	if err != nil {
		t.Fatalf("Failed to create identity transform: %v", err)
	}

	theta := mustRows(t, [][]float64{{1.5, -0.5}})
	z, err := identity.Forward(theta)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if z != theta {
		t.Error("Expected forward to return the input tensor")
	}

	logAbsDet, err := identity.LogAbsDetJacobian(theta)
	if err != nil {
		t.Fatalf("LogAbsDetJacobian failed: %v", err)
	}
	if v := logAbsDet.Data.([]float64)[0]; v != 0 {
		t.Errorf("Expected zero log-abs-det, got %v", v)
	}
}

func TestForPrior(t *testing.T) {
	t.Run("Box uniform gets logit", func(t *testing.T) {
		prior, err := dist.NewBoxUniform([]float64{0}, []float64{1}, rand.NewSource(1))
		if err != nil {
			t.Fatalf("Failed to create prior: %v", err)
		}
		tf, err := ForPrior(prior)
		if err != nil {
			t.Fatalf("ForPrior failed: %v", err)
		}
		if _, ok := tf.(*Logit); !ok {
			t.Errorf("Expected *Logit, got %T", tf)
		}
	})

	t.Run("Normal gets affine", func(t *testing.T) {
		prior, err := dist.NewNormal([]float64{0}, []float64{1}, rand.NewSource(1))
		if err != nil {
			t.Fatalf("Failed to create prior: %v", err)
		}
		tf, err := ForPrior(prior)
		if err != nil {
			t.Fatalf("ForPrior failed: %v", err)
		}
		if _, ok := tf.(*Affine); !ok {
			t.Errorf("Expected *Affine, got %T", tf)
		}
	})
}
