package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalSteps     atomic.Int64
	totalSentences atomic.Int64
)

var (
	DecodingStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hesitation_decoding_steps_total",
		Help: "The total number of decoding steps recorded",
	}, []string{"mode"})

	SentencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hesitation_sentences_total",
		Help: "The total number of sentences decoded to completion",
	}, []string{"mode"})

	StepEntropy = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hesitation_step_entropy_nats",
		Help:    "Entropy of the output distribution at each decoding step",
		Buckets: []float64{0, 0.01, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0, 3.0, 4.0, 6.0, 8.0},
	}, []string{"mode"})

	TopTokenProbability = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hesitation_top_token_probability",
		Help:    "Probability mass on the highest scoring token",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 0.99, 1.0},
	})

	SentenceLength = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hesitation_sentence_length_steps",
		Help:    "Number of decoding steps per sentence",
		Buckets: []float64{1, 5, 10, 20, 40, 80, 160, 320},
	}, []string{"mode"})

	PredictDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "hesitation_predict_duration_seconds",
		Help: "Duration of external predictor calls",
	})

	EncodeDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "hesitation_encode_duration_seconds",
		Help: "Duration of external encoder calls",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hesitation_errors_total",
		Help: "Total number of errors by kind",
	}, []string{"kind"})

	// Logit range audit, one observation per decoding step
	LogitMaxValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hesitation_logit_max_value",
		Help:    "Maximum logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	LogitMinValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hesitation_logit_min_value",
		Help:    "Minimum finite logit value observed",
		Buckets: []float64{-1000, -500, -100, -50, -20, -10, -5, 0, 5, 10},
	})

	LogitMeanValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hesitation_logit_mean_value",
		Help:    "Mean finite logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	LogitRMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hesitation_logit_rms",
		Help:    "Root mean square of finite logit values",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	LogitFlatDistribution = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hesitation_logit_flat_distribution_total",
		Help: "Count of flat logit distributions detected",
	})

	LogitNaNCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hesitation_logit_nan_total",
		Help: "Count of score vectors containing NaN values",
	})

	LogitExtremeValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hesitation_logit_extreme_values_total",
		Help: "Count of score vectors containing extreme or infinite values",
	})

	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hesitation_persist_duration_seconds",
		Help:    "Time to persist a result table",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})

	PersistedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hesitation_persisted_rows_total",
		Help: "Rows written to result tables",
	}, []string{"format"})

	FlightUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hesitation_flight_uploads_total",
		Help: "Result table uploads over Arrow Flight",
	}, []string{"status"})
)

// RecordStep records one decoding step.
func RecordStep(mode string, entropy, topProb float64) {
	DecodingStepsTotal.WithLabelValues(mode).Inc()
	StepEntropy.WithLabelValues(mode).Observe(entropy)
	TopTokenProbability.Observe(topProb)
	totalSteps.Add(1)
}

// RecordSentence records a finalized decoding run.
func RecordSentence(mode string, steps int) {
	SentencesTotal.WithLabelValues(mode).Inc()
	SentenceLength.WithLabelValues(mode).Observe(float64(steps))
	totalSentences.Add(1)
}

func RecordPrediction(duration time.Duration) {
	PredictDuration.Observe(duration.Seconds())
}

func RecordEncode(duration time.Duration) {
	EncodeDuration.Observe(duration.Seconds())
}

func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordLogitAudit records logit range audit results
func RecordLogitAudit(max, min, mean, rms float32, hasNaN, hasExtreme, isFlat bool) {
	LogitMaxValue.Observe(float64(max))
	LogitMinValue.Observe(float64(min))
	LogitMeanValue.Observe(float64(mean))
	LogitRMS.Observe(float64(rms))
	if isFlat {
		LogitFlatDistribution.Inc()
	}
	if hasNaN {
		LogitNaNCount.Inc()
	}
	if hasExtreme {
		LogitExtremeValues.Inc()
	}
}

func RecordPersist(format string, rows int, duration time.Duration) {
	PersistDuration.WithLabelValues(format).Observe(duration.Seconds())
	PersistedRowsTotal.WithLabelValues(format).Add(float64(rows))
}

func RecordUpload(err error) {
	if err != nil {
		FlightUploadsTotal.WithLabelValues("error").Inc()
		return
	}
	FlightUploadsTotal.WithLabelValues("ok").Inc()
}

// Totals returns the process-wide step and sentence counts.
func Totals() (steps, sentences int64) {
	return totalSteps.Load(), totalSentences.Load()
}
