package training

import (
	"fmt"
	"sort"
)

// ConfusionMatrix accumulates binary classification counts from raw logits.
// A logit above zero counts as a positive prediction.
type ConfusionMatrix struct {
	TP int // True positives
	FP int // False positives
	TN int // True negatives
	FN int // False negatives
}

// Reset clears the accumulated counts
func (cm *ConfusionMatrix) Reset() {
	cm.TP, cm.FP, cm.TN, cm.FN = 0, 0, 0, 0
}

// Update folds in a batch of logits with 0/1 labels
func (cm *ConfusionMatrix) Update(logits, labels []float64) error {
	if len(logits) != len(labels) {
		return fmt.Errorf("logits and labels length mismatch: %d vs %d", len(logits), len(labels))
	}

	for i, logit := range logits {
		predicted := logit > 0
		actual := labels[i] > 0.5

		switch {
		case predicted && actual:
			cm.TP++
		case predicted && !actual:
			cm.FP++
		case !predicted && !actual:
			cm.TN++
		default:
			cm.FN++
		}
	}

	return nil
}

// TotalSamples returns the number of samples folded in so far
func (cm *ConfusionMatrix) TotalSamples() int {
	return cm.TP + cm.FP + cm.TN + cm.FN
}

// Accuracy returns overall classification accuracy
func (cm *ConfusionMatrix) Accuracy() float64 {
	total := cm.TotalSamples()
	if total == 0 {
		return 0.0
	}
	return float64(cm.TP+cm.TN) / float64(total)
}

// Precision returns TP / (TP + FP)
func (cm *ConfusionMatrix) Precision() float64 {
	if cm.TP+cm.FP == 0 {
		return 0.0 // No positive predictions
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP)
}

// Recall returns TP / (TP + FN)
func (cm *ConfusionMatrix) Recall() float64 {
	if cm.TP+cm.FN == 0 {
		return 0.0 // No actual positives
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN)
}

// F1Score returns the harmonic mean of precision and recall
func (cm *ConfusionMatrix) F1Score() float64 {
	precision := cm.Precision()
	recall := cm.Recall()

	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// Specificity returns TN / (TN + FP)
func (cm *ConfusionMatrix) Specificity() float64 {
	if cm.TN+cm.FP == 0 {
		return 0.0 // No actual negatives
	}
	return float64(cm.TN) / float64(cm.TN+cm.FP)
}

// AUCROC calculates the area under the ROC curve for binary labels given raw
// scores, using the trapezoidal rule over the ranked predictions.
func AUCROC(scores, labels []float64) float64 {
	if len(scores) != len(labels) || len(scores) == 0 {
		return 0.0
	}

	type scoreLabel struct {
		score float64
		pos   bool
	}

	pairs := make([]scoreLabel, len(scores))
	totalPos := 0
	totalNeg := 0
	for i, score := range scores {
		pos := labels[i] > 0.5
		pairs[i] = scoreLabel{score: score, pos: pos}
		if pos {
			totalPos++
		} else {
			totalNeg++
		}
	}

	if totalPos == 0 || totalNeg == 0 {
		return 0.0 // Cannot calculate AUC without both classes
	}

	// Sort by score (descending)
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	auc := 0.0
	tp := 0
	fp := 0
	prevTPR := 0.0
	prevFPR := 0.0

	for _, pair := range pairs {
		if pair.pos {
			tp++
		} else {
			fp++
		}

		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)

		// Add trapezoid area
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0

		prevTPR = tpr
		prevFPR = fpr
	}

	return auc
}
