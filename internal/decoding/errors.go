package decoding

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedScores is wrapped by PredictionError when a score vector
	// contains NaN or +Inf, or has no finite entry.
	ErrMalformedScores = errors.New("malformed score vector")

	// ErrVocabMismatch is wrapped by PredictionError when the score vector
	// length differs from the target vocabulary size.
	ErrVocabMismatch = errors.New("score vector does not match target vocabulary")

	// ErrNoGold is wrapped by InputShapeError when a gold-driven strategy is
	// run without a gold sequence.
	ErrNoGold = errors.New("gold sequence required")
)

// InputShapeError reports an encoding that does not describe exactly one
// sentence, or missing inputs for the chosen strategy.
type InputShapeError struct {
	BatchSize int
	Length    int
	Err       error
}

func (e *InputShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input shape: %v", e.Err)
	}
	return fmt.Sprintf("input shape: expected a single sentence, got batch=%d length=%d", e.BatchSize, e.Length)
}

func (e *InputShapeError) Unwrap() error { return e.Err }

// PredictionError reports a failed or malformed predictor call at a given
// decoding position.
type PredictionError struct {
	Sentence int
	Position int
	Err      error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed at sentence %d position %d: %v", e.Sentence, e.Position, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }
