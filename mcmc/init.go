package mcmc

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-sbi/dist"
)

// sirInit picks one chain start by sampling candidate batches from the
// proposal and resampling a single candidate with probability proportional
// to exp(potential). Candidates with non-finite weight are skipped.
func sirInit(potential Potential, proposal dist.Distribution, numBatches, batchSize int, rng *rand.Rand) ([]float64, error) {
	dim := proposal.Dim()
	total := numBatches * batchSize
	candidates := make([][]float64, 0, total)
	logWeights := make([]float64, 0, total)

	for b := 0; b < numBatches; b++ {
		batch, err := proposal.Sample(batchSize)
		if err != nil {
			return nil, fmt.Errorf("SIR proposal sampling failed: %v", err)
		}
		values, err := potential(batch)
		if err != nil {
			return nil, fmt.Errorf("SIR potential evaluation failed: %v", err)
		}

		data := batch.Data.([]float64)
		for i := 0; i < batchSize; i++ {
			candidates = append(candidates, append([]float64(nil), data[i*dim:(i+1)*dim]...))
		}
		logWeights = append(logWeights, values.Data.([]float64)...)
	}

	maxWeight := floats.Max(logWeights)
	probs := make([]float64, len(logWeights))
	sum := 0.0
	for i, w := range logWeights {
		p := math.Exp(w - maxWeight)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			p = 0
		}
		probs[i] = p
		sum += p
	}
	if sum <= 0 {
		return nil, fmt.Errorf("all %d SIR candidates have zero weight", total)
	}

	pick := distuv.NewCategorical(probs, rng)
	return candidates[int(pick.Rand())], nil
}
