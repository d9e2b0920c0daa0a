package ratio

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// Training variants: VariantA is the pairwise logistic form (one matched and
// one mismatched pair per example), VariantB the multi-atom contrastive form.
const (
	VariantA = "A"
	VariantB = "B"
)

// Training defaults applied when the corresponding config field is unset.
const (
	DefaultNumAtoms           = 10
	DefaultBatchSize          = 50
	DefaultLearningRate       = 5e-4
	DefaultMaxEpochs          = 200
	DefaultValidationFraction = 0.1
)

// TrainConfig controls one classifier training run. Schedule selects a
// learning-rate schedule by name (constant when empty); ScheduleGamma and
// ScheduleStepSize parameterize it as in training.SchedulerFromName.
type TrainConfig struct {
	Variant            string
	NumAtoms           int
	BatchSize          int
	LearningRate       float64
	MaxEpochs          int
	StopAfterEpochs    int
	ValidationFraction float64
	Schedule           string
	ScheduleGamma      float64
	ScheduleStepSize   int
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.NumAtoms <= 0 {
		c.NumAtoms = DefaultNumAtoms
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.MaxEpochs <= 0 {
		c.MaxEpochs = DefaultMaxEpochs
	}
	if c.StopAfterEpochs <= 0 {
		c.StopAfterEpochs = training.DefaultStopAfterEpochs
	}
	if c.ValidationFraction <= 0 {
		c.ValidationFraction = DefaultValidationFraction
	}
	return c
}

// Validate checks the completed config
func (c *TrainConfig) Validate() error {
	if c.Variant != VariantA && c.Variant != VariantB {
		return fmt.Errorf("unknown training variant %q", c.Variant)
	}
	if c.Variant == VariantB && c.NumAtoms < 2 {
		return fmt.Errorf("contrastive training needs at least 2 atoms, got %d", c.NumAtoms)
	}
	if c.ValidationFraction >= 1 {
		return fmt.Errorf("validation fraction must be below 1, got %v", c.ValidationFraction)
	}
	return nil
}

// TrainResult reports how a classifier training run went.
type TrainResult struct {
	Epochs       int
	BestEvalLoss float64
	Accuracy     float64
	AUC          float64
}

// Train fits the estimator's classifier on the accumulated dataset. The
// features are standardized with the estimator's fitted statistics, split
// into train and validation folds, and optimized with Adam until the
// early-stopping monitor fires on the validation loss. Atom and pair
// counterparts are drawn from src.
func Train(est *RatioEstimator, ds *Dataset, cfg TrainConfig, src rand.Source) (*TrainResult, error) {
	c := cfg.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %v", err)
	}
	if ds.Len() < 2 {
		return nil, fmt.Errorf("ratio training needs at least 2 pairs, got %d", ds.Len())
	}

	rng := rand.New(src)

	theta, x, err := est.standardize(ds.Theta, ds.X)
	if err != nil {
		return nil, fmt.Errorf("standardization failed: %v", err)
	}

	pairs, err := training.NewPairDataset(theta, x)
	if err != nil {
		return nil, err
	}
	trainSet, evalSet, err := pairs.SplitTrainEval(c.ValidationFraction)
	if err != nil {
		return nil, fmt.Errorf("train/validation split failed: %v", err)
	}

	minRows := 2
	if c.Variant == VariantB {
		minRows = c.NumAtoms
	}
	if evalSet.Len() < minRows {
		return nil, fmt.Errorf("validation fold of %d rows is too small, need %d", evalSet.Len(), minRows)
	}

	loader := training.NewPairLoader(trainSet, c.BatchSize, true)
	optimizer := training.NewAdamDefault(est.classifier.Parameters(), c.LearningRate)
	scheduler, err := training.SchedulerFromName(c.Schedule, c.ScheduleGamma, c.ScheduleStepSize)
	if err != nil {
		return nil, err
	}
	monitor := training.NewEarlyStopping(c.StopAfterEpochs)

	var evalLosses []float64
	epochs := c.MaxEpochs
	for epoch := 0; epoch < c.MaxEpochs; epoch++ {
		evalLoss, err := classifierLoss(est, evalSet.Inputs, evalSet.Contexts, c, rng)
		if err != nil {
			return nil, fmt.Errorf("validation loss failed: %v", err)
		}
		value, err := evalLoss.Item()
		if err != nil {
			return nil, err
		}
		evalLosses = append(evalLosses, value)

		if epoch >= 1 && monitor.Update(evalLosses[epoch], evalLosses[epoch-1]) {
			epochs = epoch
			break
		}

		optimizer.SetLR(scheduler.GetLR(epoch, 0, c.LearningRate))
		loader.Reset()
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				return nil, err
			}
			if batch.Len() < minRows {
				continue
			}

			optimizer.ZeroGrad()
			loss, err := classifierLoss(est, batch.Inputs, batch.Contexts, c, rng)
			if err != nil {
				return nil, fmt.Errorf("training loss failed: %v", err)
			}
			if err := loss.Backward(); err != nil {
				return nil, fmt.Errorf("backward pass failed: %v", err)
			}
			if err := optimizer.Step(); err != nil {
				return nil, fmt.Errorf("optimizer step failed: %v", err)
			}
		}
	}

	result := &TrainResult{
		Epochs:       epochs,
		BestEvalLoss: floats.Min(evalLosses),
	}
	if err := validationMetrics(est, evalSet, result); err != nil {
		return nil, err
	}
	return result, nil
}

func classifierLoss(est *RatioEstimator, theta, x *tensor.Tensor, c TrainConfig, rng *rand.Rand) (*tensor.Tensor, error) {
	if c.Variant == VariantA {
		return pairLoss(est, theta, x, rng)
	}
	return atomLoss(est, theta, x, c.NumAtoms, rng)
}

func classifierLogits(est *RatioEstimator, theta, x *tensor.Tensor) (*tensor.Tensor, error) {
	joint, err := tensor.Concat([]*tensor.Tensor{theta, x}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble classifier input: %v", err)
	}
	return est.classifier.Forward(joint)
}

// pairLoss builds one matched and one mismatched example per row and applies
// the logistic loss: the classifier learns to separate joint draws from
// products of marginals.
func pairLoss(est *RatioEstimator, theta, x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	b := theta.Shape[0]
	if b < 2 {
		return nil, fmt.Errorf("pairwise loss needs at least 2 rows, got %d", b)
	}

	thetaIdx := make([]int, 0, 2*b)
	xIdx := make([]int, 0, 2*b)
	labelData := make([]float64, 0, 2*b)
	for i := 0; i < b; i++ {
		j := contrastIndices(b, 1, i, rng)[0]
		thetaIdx = append(thetaIdx, i, j)
		xIdx = append(xIdx, i, i)
		labelData = append(labelData, 1, 0)
	}

	thetaRows, err := tensor.GatherRows(theta, thetaIdx)
	if err != nil {
		return nil, err
	}
	xRows, err := tensor.GatherRows(x, xIdx)
	if err != nil {
		return nil, err
	}

	logits, err := classifierLogits(est, thetaRows, xRows)
	if err != nil {
		return nil, err
	}
	labels, err := tensor.NewTensor([]int{2 * b, 1}, tensor.Float64, labelData)
	if err != nil {
		return nil, err
	}

	return training.BCEWithLogitsLoss(logits, labels)
}

// atomLoss scores each observation against its own parameters plus
// numAtoms-1 contrastive parameters from the same batch, and maximizes the
// softmax probability of the matched atom.
func atomLoss(est *RatioEstimator, theta, x *tensor.Tensor, numAtoms int, rng *rand.Rand) (*tensor.Tensor, error) {
	b := theta.Shape[0]
	if b < numAtoms {
		return nil, fmt.Errorf("number of atoms %d exceeds batch size %d", numAtoms, b)
	}

	thetaIdx := make([]int, 0, b*numAtoms)
	xIdx := make([]int, 0, b*numAtoms)
	for i := 0; i < b; i++ {
		thetaIdx = append(thetaIdx, i)
		thetaIdx = append(thetaIdx, contrastIndices(b, numAtoms-1, i, rng)...)
		for k := 0; k < numAtoms; k++ {
			xIdx = append(xIdx, i)
		}
	}

	thetaRows, err := tensor.GatherRows(theta, thetaIdx)
	if err != nil {
		return nil, err
	}
	xRows, err := tensor.GatherRows(x, xIdx)
	if err != nil {
		return nil, err
	}

	logits, err := classifierLogits(est, thetaRows, xRows)
	if err != nil {
		return nil, err
	}
	grid, err := tensor.ReshapeAutograd(logits, []int{b, numAtoms})
	if err != nil {
		return nil, err
	}

	lse, err := logSumExpRows(grid)
	if err != nil {
		return nil, err
	}
	matched, err := tensor.SelectColumnsAutograd(grid, []int{0})
	if err != nil {
		return nil, err
	}
	diff, err := tensor.SubAutograd(lse, matched)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(diff)
}

// logSumExpRows reduces a [b, k] logit grid row-wise with the max-subtracted
// form. The maxima enter as constants, which leaves the softmax gradient
// intact.
func logSumExpRows(grid *tensor.Tensor) (*tensor.Tensor, error) {
	b, k := grid.Shape[0], grid.Shape[1]
	data := grid.Data.([]float64)
	maxima := make([]float64, b)
	for r := 0; r < b; r++ {
		maxima[r] = floats.Max(data[r*k : (r+1)*k])
	}
	rowMax, err := tensor.NewTensor([]int{b, 1}, tensor.Float64, maxima)
	if err != nil {
		return nil, err
	}

	shifted, err := tensor.SubAutograd(grid, rowMax)
	if err != nil {
		return nil, err
	}
	exps, err := tensor.ExpAutograd(shifted)
	if err != nil {
		return nil, err
	}
	sums, err := tensor.SumAutograd(exps, 1, true)
	if err != nil {
		return nil, err
	}
	logs, err := tensor.LogAutograd(sums)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(logs, rowMax)
}

// contrastIndices draws count distinct indices from [0, n) excluding skip
func contrastIndices(n, count, skip int, rng *rand.Rand) []int {
	candidates := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != skip {
			candidates = append(candidates, i)
		}
	}
	for i := 0; i < count; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:count]
}

// validationMetrics scores the held-out fold with matched and cyclically
// mismatched pairs and fills in accuracy and AUC.
func validationMetrics(est *RatioEstimator, evalSet *training.PairDataset, result *TrainResult) error {
	n := evalSet.Len()
	mismatchIdx := make([]int, n)
	for i := range mismatchIdx {
		mismatchIdx[i] = (i + 1) % n
	}

	matched, err := classifierLogits(est, evalSet.Inputs, evalSet.Contexts)
	if err != nil {
		return err
	}
	shuffledTheta, err := tensor.GatherRows(evalSet.Inputs, mismatchIdx)
	if err != nil {
		return err
	}
	mismatched, err := classifierLogits(est, shuffledTheta, evalSet.Contexts)
	if err != nil {
		return err
	}

	scores := make([]float64, 0, 2*n)
	labels := make([]float64, 0, 2*n)
	scores = append(scores, matched.Data.([]float64)...)
	scores = append(scores, mismatched.Data.([]float64)...)
	for i := 0; i < n; i++ {
		labels = append(labels, 1)
	}
	for i := 0; i < n; i++ {
		labels = append(labels, 0)
	}

	cm := &training.ConfusionMatrix{}
	if err := cm.Update(scores, labels); err != nil {
		return err
	}
	result.Accuracy = cm.Accuracy()
	result.AUC = training.AUCROC(scores, labels)
	return nil
}
