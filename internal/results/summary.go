package results

import (
	"gonum.org/v1/gonum/stat"
)

// Summary holds corpus-level aggregates used for the end-of-run log line.
type Summary struct {
	Sentences   int
	Steps       int
	MeanEntropy float64
	// MeanEntropyByPosition[i] is the mean entropy of all steps at token
	// position i.
	MeanEntropyByPosition []float64
	MeanSentenceLength    float64
	// GoldAgreement is the share of gold-bearing steps whose argmax equals
	// the gold token; zero when no step carries gold.
	GoldAgreement float64
	GoldSteps     int
}

// Summarize aggregates the table rows.
func (t *Table) Summarize() Summary {
	s := Summary{Sentences: t.runs, Steps: t.Len()}
	if t.Len() == 0 {
		return s
	}

	entropies := make([]float64, 0, t.Len())
	var byPos [][]float64
	var lengths []float64
	agree := 0
	for _, row := range t.Rows {
		entropies = append(entropies, row.Entropy)
		for len(byPos) <= row.Position {
			byPos = append(byPos, nil)
		}
		byPos[row.Position] = append(byPos[row.Position], row.Entropy)
		if row.Position == 0 {
			lengths = append(lengths, float64(row.SentenceLength))
		}
		if row.HasGold {
			s.GoldSteps++
			if row.PredictedToken == row.GoldToken {
				agree++
			}
		}
	}

	s.MeanEntropy = stat.Mean(entropies, nil)
	s.MeanEntropyByPosition = make([]float64, len(byPos))
	for i, vals := range byPos {
		if len(vals) > 0 {
			s.MeanEntropyByPosition[i] = stat.Mean(vals, nil)
		}
	}
	if len(lengths) > 0 {
		s.MeanSentenceLength = stat.Mean(lengths, nil)
	}
	if s.GoldSteps > 0 {
		s.GoldAgreement = float64(agree) / float64(s.GoldSteps)
	}
	return s
}
