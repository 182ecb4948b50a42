package decoding

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution is the normalized output of one decoding step.
type Distribution struct {
	Scores   []float64
	LogProbs []float64
	Probs    []float64
}

// NewDistribution normalizes a score vector with log-sum-exp, so the
// largest score is subtracted before exponentiating. The caller is expected
// to have rejected vectors that fail AuditLogits.
func NewDistribution(scores []float32) *Distribution {
	n := len(scores)
	d := &Distribution{
		Scores:   make([]float64, n),
		LogProbs: make([]float64, n),
		Probs:    make([]float64, n),
	}
	for i, s := range scores {
		d.Scores[i] = float64(s)
	}
	if n == 0 {
		return d
	}

	lse := floats.LogSumExp(d.Scores)
	for i, s := range d.Scores {
		lp := s - lse
		d.LogProbs[i] = lp
		d.Probs[i] = math.Exp(lp)
	}
	return d
}

func (d *Distribution) Len() int { return len(d.Scores) }

// Entropy is the Shannon entropy in nats. Zero-probability entries
// contribute nothing; rounding noise below zero is clamped.
func (d *Distribution) Entropy() float64 {
	if d.Len() == 0 {
		return 0
	}
	h := stat.Entropy(d.Probs)
	if h <= 0 {
		return 0
	}
	return h
}

// Argmax returns the highest scoring token; ties go to the lowest id.
func (d *Distribution) Argmax() int {
	return floats.MaxIdx(d.Scores)
}

func (d *Distribution) LogProb(id int) float64 { return d.LogProbs[id] }

func (d *Distribution) Prob(id int) float64 { return d.Probs[id] }

// Margin is the probability of the best token minus the second best.
func (d *Distribution) Margin() float64 {
	if d.Len() < 2 {
		if d.Len() == 1 {
			return d.Probs[0]
		}
		return 0
	}
	best, second := math.Inf(-1), math.Inf(-1)
	for _, p := range d.Probs {
		switch {
		case p > best:
			second = best
			best = p
		case p > second:
			second = p
		}
	}
	return best - second
}

// TopK extracts the k most probable tokens by repeatedly taking the maximum
// of a working copy and masking it with -Inf, then renormalizes the
// extracted probabilities by their sum. k is clamped to the vocabulary size.
func (d *Distribution) TopK(k int) (ids []int, weights []float64) {
	if k > d.Len() {
		k = d.Len()
	}
	if k <= 0 {
		return nil, nil
	}

	work := make([]float64, d.Len())
	copy(work, d.Probs)

	ids = make([]int, k)
	weights = make([]float64, k)
	z := 0.0
	for j := 0; j < k; j++ {
		idx := floats.MaxIdx(work)
		ids[j] = idx
		weights[j] = work[idx]
		z += work[idx]
		work[idx] = math.Inf(-1)
	}
	if z > 0 {
		floats.Scale(1/z, weights)
	}
	return ids, weights
}

// ArgmaxExcluding returns the highest scoring token other than excluded.
// The argmax is retried with the excluded token masked to -Inf.
func (d *Distribution) ArgmaxExcluding(excluded int) int {
	work := make([]float64, d.Len())
	copy(work, d.Scores)
	for tries := 0; tries < 2; tries++ {
		idx := floats.MaxIdx(work)
		if idx != excluded {
			return idx
		}
		work[idx] = math.Inf(-1)
	}
	// every remaining score is -Inf; take the first other id
	if excluded == 0 && d.Len() > 1 {
		return 1
	}
	return 0
}

// LogProbs32 returns the log-probability vector narrowed to float32.
func (d *Distribution) LogProbs32() []float32 {
	out := make([]float32, d.Len())
	for i, lp := range d.LogProbs {
		out[i] = float32(lp)
	}
	return out
}
