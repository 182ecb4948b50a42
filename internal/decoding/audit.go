package decoding

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-hesitation/internal/metrics"
)

// LogitAudit summarizes a raw score vector before it is normalized.
// -Inf entries are masked tokens and are excluded from the range statistics.
type LogitAudit struct {
	Max  float32
	Min  float32
	Mean float32
	RMS  float32

	NumNaNs   int
	NumPosInf int
	NumMasked int
	Finite    int

	HasExtremeValues bool
	IsFlat           bool
}

// AuditLogits inspects a score vector for NaN, infinities, extreme values
// and flatness.
func AuditLogits(logits []float32) LogitAudit {
	audit := LogitAudit{}
	if len(logits) == 0 {
		return audit
	}

	var sum, sumSq float64
	var minVal, maxVal float32 = math.MaxFloat32, -math.MaxFloat32

	for _, v := range logits {
		switch {
		case math.IsNaN(float64(v)):
			audit.NumNaNs++
			audit.HasExtremeValues = true
			continue
		case math.IsInf(float64(v), 1):
			audit.NumPosInf++
			audit.HasExtremeValues = true
			continue
		case math.IsInf(float64(v), -1):
			audit.NumMasked++
			continue
		}

		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
		sumSq += float64(v) * float64(v)
		audit.Finite++
	}

	if audit.Finite == 0 {
		return audit
	}

	audit.Max = maxVal
	audit.Min = minVal
	audit.Mean = float32(sum / float64(audit.Finite))
	audit.RMS = float32(math.Sqrt(sumSq / float64(audit.Finite)))

	if math.Abs(float64(audit.Max)) > 1e20 || math.Abs(float64(audit.Min)) > 1e20 {
		audit.HasExtremeValues = true
	}

	// constant vector: variance = RMS^2 - mean^2 ~ 0
	variance := float64(audit.RMS)*float64(audit.RMS) - float64(audit.Mean)*float64(audit.Mean)
	audit.IsFlat = audit.Finite > 1 && math.Abs(variance) < 1e-6

	return audit
}

// Err reports why the audited vector cannot be turned into a distribution.
func (a LogitAudit) Err() error {
	switch {
	case a.NumNaNs > 0:
		return fmt.Errorf("%w: %d NaN scores", ErrMalformedScores, a.NumNaNs)
	case a.NumPosInf > 0:
		return fmt.Errorf("%w: %d +Inf scores", ErrMalformedScores, a.NumPosInf)
	case a.Finite == 0:
		return fmt.Errorf("%w: no finite scores", ErrMalformedScores)
	}
	return nil
}

func (a LogitAudit) record() {
	metrics.RecordLogitAudit(a.Max, a.Min, a.Mean, a.RMS, a.NumNaNs > 0, a.HasExtremeValues, a.IsFlat)
}
