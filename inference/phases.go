package inference

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/flows"
	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// trainLikelihood refits the likelihood flow on simulated (x, theta) pairs
// by maximum likelihood, with early stopping on a held-out split.
func trainLikelihood(flow *flows.Flow, x, theta *tensor.Tensor, epochs, batchSize int,
	opt *training.Adam, validationFraction float64, earlyStopping bool, stopAfterEpochs int) error {

	fmt.Println("start update likelihood model")
	return fitFlowMaxLikelihood(flow, x, theta, epochs, batchSize, opt,
		validationFraction, earlyStopping, stopAfterEpochs)
}

// trainPosteriorHotStart fits the posterior flow on the same pairs with the
// input and context roles swapped. It always runs the full epoch count.
func trainPosteriorHotStart(flow *flows.Flow, x, theta *tensor.Tensor, epochs, batchSize int,
	opt *training.Adam, validationFraction float64) error {

	fmt.Println("start update posterior model from prior pred - hot start")
	return fitFlowMaxLikelihood(flow, theta, x, epochs, batchSize, opt,
		validationFraction, false, 0)
}

// fitFlowMaxLikelihood runs the shared epoch loop of the maximum-likelihood
// phases: the validation loss is computed before any weight update, the
// early-stopping monitor sees it from the second epoch on, and each shuffled
// mini-batch takes one optimizer step.
func fitFlowMaxLikelihood(flow *flows.Flow, inputs, contexts *tensor.Tensor, epochs, batchSize int,
	opt *training.Adam, validationFraction float64, earlyStopping bool, stopAfterEpochs int) error {

	pairs, err := training.NewPairDataset(inputs, contexts)
	if err != nil {
		return err
	}
	trainSet, evalSet, err := pairs.SplitTrainEval(validationFraction)
	if err != nil {
		return err
	}

	loader := training.NewPairLoader(trainSet, batchSize, true)
	monitor := training.NewEarlyStopping(stopAfterEpochs)

	var lossesEval []float64
	for e := 0; e < epochs; e++ {
		evalLoss, err := flowNLL(flow, evalSet.Inputs, evalSet.Contexts)
		if err != nil {
			return fmt.Errorf("validation loss failed: %v", err)
		}
		value, err := evalLoss.Item()
		if err != nil {
			return err
		}
		lossesEval = append(lossesEval, value)

		if earlyStopping && e >= 1 && monitor.Update(lossesEval[e], lossesEval[e-1]) {
			printEarlyStopping(e)
			return nil
		}

		lossSum := 0.0
		loader.Reset()
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				return err
			}

			opt.ZeroGrad()
			loss, err := flowNLL(flow, batch.Inputs, batch.Contexts)
			if err != nil {
				return fmt.Errorf("training loss failed: %v", err)
			}
			value, err := loss.Item()
			if err != nil {
				return err
			}
			lossSum += value

			if err := loss.Backward(); err != nil {
				return fmt.Errorf("backward pass failed: %v", err)
			}
			if err := opt.Step(); err != nil {
				return fmt.Errorf("optimizer step failed: %v", err)
			}
		}

		printUpdate(e, lossSum/(float64(trainSet.Len())/float64(batchSize)), lossesEval[e])
	}
	return nil
}

// trainPosteriorOnTheFly refits the posterior flow without a fixed dataset:
// every epoch draws fresh base samples conditioned on the observation for
// both the validation batch and each training mini-batch.
func trainPosteriorOnTheFly(postFlow, likFlow *flows.Flow, prior dist.Distribution, xo *tensor.Tensor,
	numPost, epochs, batchSize int, opt *training.Adam, validationFraction float64,
	earlyStopping bool, stopAfterEpochs int) error {

	fmt.Println("start update posterior model")

	nVal := int(float64(numPost) * validationFraction)
	if nVal == 0 {
		return fmt.Errorf("posterior validation batch is empty: %d samples with fraction %v",
			numPost, validationFraction)
	}
	xoVal, err := tensor.RepeatRows(xo, nVal)
	if err != nil {
		return err
	}
	xoBatch, err := tensor.RepeatRows(xo, batchSize)
	if err != nil {
		return err
	}

	monitor := training.NewEarlyStopping(stopAfterEpochs)
	steps := numPost / batchSize

	var lossesEval []float64
	for e := 0; e < epochs; e++ {
		noiseEval, logBaseEval, err := postFlow.SampleBaseWithLogProb(nVal)
		if err != nil {
			return fmt.Errorf("validation sampling failed: %v", err)
		}
		evalLoss, err := posteriorLoss(postFlow, likFlow, prior, noiseEval, logBaseEval, xoVal)
		if err != nil {
			return fmt.Errorf("validation loss failed: %v", err)
		}
		value, err := evalLoss.Item()
		if err != nil {
			return err
		}
		lossesEval = append(lossesEval, value)

		if earlyStopping && e >= 1 && monitor.Update(lossesEval[e], lossesEval[e-1]) {
			printEarlyStopping(e)
			return nil
		}

		lossSum := 0.0
		for i := 0; i < numPost; i += batchSize {
			noise, logBase, err := postFlow.SampleBaseWithLogProb(batchSize)
			if err != nil {
				return fmt.Errorf("posterior sampling failed: %v", err)
			}

			opt.ZeroGrad()
			loss, err := posteriorLoss(postFlow, likFlow, prior, noise, logBase, xoBatch)
			if err != nil {
				return fmt.Errorf("training loss failed: %v", err)
			}
			value, err := loss.Item()
			if err != nil {
				return err
			}
			lossSum += value

			if err := loss.Backward(); err != nil {
				return fmt.Errorf("backward pass failed: %v", err)
			}
			if err := opt.Step(); err != nil {
				return fmt.Errorf("optimizer step failed: %v", err)
			}
		}

		printUpdate(e, lossSum/float64(steps), lossesEval[e])
	}
	return nil
}

// posteriorLoss is the amortized variational objective: the posterior flow's
// own log-density of its sampled parameters (base log-prob minus the inverse
// log-abs-det) minus the learned likelihood of the observation and minus the
// prior density, averaged over the batch. Gradients flow through the inverse
// transform, the likelihood evaluation and any prior with an analytic score;
// the base log-prob enters as a constant.
func posteriorLoss(postFlow, likFlow *flows.Flow, prior dist.Distribution,
	noise, logBase, xoBatch *tensor.Tensor) (*tensor.Tensor, error) {

	theta, logAbsDet, err := postFlow.InverseWithLogDet(noise, xoBatch)
	if err != nil {
		return nil, fmt.Errorf("inverse transform failed: %v", err)
	}

	compPost, err := tensor.SubAutograd(logBase, logAbsDet)
	if err != nil {
		return nil, err
	}
	compLik, err := likFlow.LogProb(xoBatch, theta)
	if err != nil {
		return nil, fmt.Errorf("likelihood evaluation failed: %v", err)
	}
	compPrior, err := prior.LogProb(theta)
	if err != nil {
		return nil, fmt.Errorf("prior evaluation failed: %v", err)
	}

	diff, err := tensor.SubAutograd(compPost, compLik)
	if err != nil {
		return nil, err
	}
	total, err := tensor.SubAutograd(diff, compPrior)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(total)
}

func flowNLL(flow *flows.Flow, inputs, contexts *tensor.Tensor) (*tensor.Tensor, error) {
	logProbs, err := flow.LogProb(inputs, contexts)
	if err != nil {
		return nil, err
	}
	return training.NegativeMeanLoss(logProbs)
}

func printUpdate(epoch int, trainLoss, evalLoss float64) {
	fmt.Printf("Epoch: %d, loss (training): %v, loss (eval): %v\n",
		epoch, round4(trainLoss), round4(evalLoss))
}

func printEarlyStopping(epoch int) {
	fmt.Printf("Early-stopping. Training converged after %d epochs.\n", epoch)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
