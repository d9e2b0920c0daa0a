package training

import (
	"math"
	"testing"
)

func TestEarlyStoppingDefaults(t *testing.T) {
	es := NewEarlyStopping(0)
	if es.StopAfterEpochs != DefaultStopAfterEpochs {
		t.Errorf("Expected default patience %d, got %d", DefaultStopAfterEpochs, es.StopAfterEpochs)
	}
	if !math.IsInf(es.BestLoss(), 1) {
		t.Errorf("Expected initial best loss +Inf, got %v", es.BestLoss())
	}
	if es.Waited() != 0 {
		t.Errorf("Expected initial wait counter 0, got %d", es.Waited())
	}
}

func TestEarlyStoppingImprovingLosses(t *testing.T) {
	// Strictly decreasing validation losses never advance the wait counter.
	es := NewEarlyStopping(3)
	losses := []float64{5.0, 4.0, 3.0, 2.0, 1.0}

	for e := 1; e < len(losses); e++ {
		stop := es.Update(losses[e], losses[e-1])
		if stop {
			t.Fatalf("Epoch %d: unexpected stop signal", e)
		}
		if es.Waited() != 0 {
			t.Errorf("Epoch %d: expected wait counter 0, got %d", e, es.Waited())
		}
	}

	if es.BestLoss() != 1.0 {
		t.Errorf("Expected best loss 1.0, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingFiresAtPatienceBoundary(t *testing.T) {
	// Monotonically increasing losses stop exactly when the counter reaches
	// the patience window, not before.
	es := NewEarlyStopping(3)
	losses := []float64{1.0, 1.1, 1.2, 1.3}

	for e := 1; e < len(losses); e++ {
		stop := es.Update(losses[e], losses[e-1])
		expectStop := e == 3
		if stop != expectStop {
			t.Errorf("Epoch %d: expected stop=%v, got %v", e, expectStop, stop)
		}
	}

	// The best loss seen on the worsening run was the first value.
	if es.BestLoss() != 1.0 {
		t.Errorf("Expected best loss 1.0, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingWorseThanOldAndBest(t *testing.T) {
	// A loss that worsens relative to both the previous epoch and the best
	// seen counts as a single waited epoch.
	es := NewEarlyStopping(10)

	es.Update(1.0, 2.0) // new best 1.0
	es.Update(1.5, 1.0) // worse than previous
	if es.Waited() != 1 {
		t.Fatalf("Expected wait counter 1, got %d", es.Waited())
	}

	es.Update(2.0, 1.5) // worse than previous and worse than best
	if es.Waited() != 2 {
		t.Errorf("Expected wait counter 2, got %d", es.Waited())
	}
	if es.BestLoss() != 1.0 {
		t.Errorf("Expected best loss 1.0, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingRecoveryResetsCounter(t *testing.T) {
	es := NewEarlyStopping(10)

	es.Update(1.0, 2.0) // new best 1.0
	es.Update(1.2, 1.0) // worse than previous
	es.Update(1.1, 1.2) // better than previous, still worse than best
	if es.Waited() != 2 {
		t.Fatalf("Expected wait counter 2, got %d", es.Waited())
	}

	es.Update(0.9, 1.1) // new best
	if es.Waited() != 0 {
		t.Errorf("Expected wait counter reset to 0, got %d", es.Waited())
	}
	if es.BestLoss() != 0.9 {
		t.Errorf("Expected best loss 0.9, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingEqualToBestUnchanged(t *testing.T) {
	// Matching the best loss exactly neither resets nor advances the counter.
	es := NewEarlyStopping(10)

	es.Update(1.0, 2.0) // new best 1.0
	es.Update(1.5, 1.0)
	if es.Waited() != 1 {
		t.Fatalf("Expected wait counter 1, got %d", es.Waited())
	}

	es.Update(1.0, 1.5) // equal to best
	if es.Waited() != 1 {
		t.Errorf("Expected wait counter unchanged at 1, got %d", es.Waited())
	}
	if es.BestLoss() != 1.0 {
		t.Errorf("Expected best loss 1.0, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingBestTracksPreviousLoss(t *testing.T) {
	// When the first observed transition already worsens, the previous loss
	// becomes the best seen.
	es := NewEarlyStopping(10)

	es.Update(2.0, 1.0)
	if es.Waited() != 1 {
		t.Errorf("Expected wait counter 1, got %d", es.Waited())
	}
	if es.BestLoss() != 1.0 {
		t.Errorf("Expected best loss 1.0, got %v", es.BestLoss())
	}
}

func TestEarlyStoppingConstantLossesNeverFire(t *testing.T) {
	// A perfectly flat loss curve falls through every branch once the value
	// equals the best, so the monitor never signals.
	es := NewEarlyStopping(2)

	for e := 0; e < 10; e++ {
		if es.Update(1.0, 1.0) {
			t.Fatalf("Step %d: unexpected stop signal for constant losses", e)
		}
	}
	if es.Waited() != 0 {
		t.Errorf("Expected wait counter 0, got %d", es.Waited())
	}
}
