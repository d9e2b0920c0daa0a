package training

import (
	"math"
	"testing"
)

func TestConfusionMatrixCounts(t *testing.T) {
	cm := &ConfusionMatrix{}

	logits := []float64{2.0, -1.0, 0.5, -0.5, 3.0}
	labels := []float64{1, 0, 0, 1, 1}

	if err := cm.Update(logits, labels); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if cm.TP != 2 {
		t.Errorf("Expected 2 true positives, got %d", cm.TP)
	}
	if cm.FP != 1 {
		t.Errorf("Expected 1 false positive, got %d", cm.FP)
	}
	if cm.TN != 1 {
		t.Errorf("Expected 1 true negative, got %d", cm.TN)
	}
	if cm.FN != 1 {
		t.Errorf("Expected 1 false negative, got %d", cm.FN)
	}
	if cm.TotalSamples() != 5 {
		t.Errorf("Expected 5 samples, got %d", cm.TotalSamples())
	}
}

func TestConfusionMatrixMetrics(t *testing.T) {
	cm := &ConfusionMatrix{TP: 8, FP: 2, TN: 7, FN: 3}

	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"accuracy", cm.Accuracy(), 15.0 / 20.0},
		{"precision", cm.Precision(), 8.0 / 10.0},
		{"recall", cm.Recall(), 8.0 / 11.0},
		{"specificity", cm.Specificity(), 7.0 / 9.0},
	}

	for _, tt := range tests {
		if math.Abs(tt.value-tt.expected) > 1e-10 {
			t.Errorf("Expected %s %.6f, got %.6f", tt.name, tt.expected, tt.value)
		}
	}

	precision := cm.Precision()
	recall := cm.Recall()
	expectedF1 := 2 * precision * recall / (precision + recall)
	if math.Abs(cm.F1Score()-expectedF1) > 1e-10 {
		t.Errorf("Expected F1 %.6f, got %.6f", expectedF1, cm.F1Score())
	}
}

func TestConfusionMatrixEmptyAndReset(t *testing.T) {
	cm := &ConfusionMatrix{}

	if cm.Accuracy() != 0.0 || cm.Precision() != 0.0 || cm.Recall() != 0.0 {
		t.Error("Expected zero metrics for empty matrix")
	}

	cm.Update([]float64{1.0}, []float64{1})
	if cm.TotalSamples() != 1 {
		t.Fatalf("Expected 1 sample, got %d", cm.TotalSamples())
	}

	cm.Reset()
	if cm.TotalSamples() != 0 {
		t.Errorf("Expected 0 samples after reset, got %d", cm.TotalSamples())
	}
}

func TestConfusionMatrixLengthMismatch(t *testing.T) {
	cm := &ConfusionMatrix{}
	if err := cm.Update([]float64{1.0, 2.0}, []float64{1}); err == nil {
		t.Error("Expected error for mismatched lengths")
	}
}

func TestAUCROC(t *testing.T) {
	t.Run("perfect separation", func(t *testing.T) {
		scores := []float64{0.9, 0.8, 0.2, 0.1}
		labels := []float64{1, 1, 0, 0}
		if auc := AUCROC(scores, labels); math.Abs(auc-1.0) > 1e-10 {
			t.Errorf("Expected AUC 1.0, got %v", auc)
		}
	})

	t.Run("inverted ranking", func(t *testing.T) {
		scores := []float64{0.1, 0.2, 0.8, 0.9}
		labels := []float64{1, 1, 0, 0}
		if auc := AUCROC(scores, labels); math.Abs(auc-0.0) > 1e-10 {
			t.Errorf("Expected AUC 0.0, got %v", auc)
		}
	})

	t.Run("interleaved ranking", func(t *testing.T) {
		scores := []float64{0.9, 0.8, 0.3, 0.2}
		labels := []float64{1, 0, 1, 0}
		if auc := AUCROC(scores, labels); math.Abs(auc-0.75) > 1e-10 {
			t.Errorf("Expected AUC 0.75, got %v", auc)
		}
	})

	t.Run("single class", func(t *testing.T) {
		scores := []float64{0.9, 0.8}
		labels := []float64{1, 1}
		if auc := AUCROC(scores, labels); auc != 0.0 {
			t.Errorf("Expected AUC 0.0 for single-class labels, got %v", auc)
		}
	})
}
