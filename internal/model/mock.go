package model

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
)

// ScriptFunc returns the score vector for a decoder history.
type ScriptFunc func(history []int) []float32

// Mock is a scripted in-process model. It satisfies decoding.Encoder and
// decoding.Predictor and records every call.
type Mock struct {
	mu sync.Mutex

	VocabSize int
	Dim       int
	Script    ScriptFunc

	EncodeErr  error
	PredictErr error
	// FailAt makes the n-th Predict call (0-based) return PredictErr; -1
	// fails every call once PredictErr is set.
	FailAt int

	encodeCalls  int
	predictCalls int
	histories    [][]int
}

// NewMock returns a mock scoring every token equally.
func NewMock(vocabSize int) *Mock {
	return &Mock{
		VocabSize: vocabSize,
		Dim:       4,
		FailAt:    -1,
		Script: func([]int) []float32 {
			return make([]float32, vocabSize)
		},
	}
}

// Encode returns a handle-only encoding of shape [1, len(src), Dim].
func (m *Mock) Encode(_ context.Context, src []int) (decoding.Encoding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.encodeCalls++
	if m.EncodeErr != nil {
		return decoding.Encoding{}, m.EncodeErr
	}
	return decoding.Encoding{
		BatchSize: 1,
		Length:    len(src),
		Dim:       m.Dim,
		Handle:    fmt.Sprintf("mock-%d", m.encodeCalls),
	}, nil
}

// Predict runs the script on a copy of history.
func (m *Mock) Predict(ctx context.Context, history []int, _ decoding.Encoding) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.predictCalls
	m.predictCalls++
	h := append([]int(nil), history...)
	m.histories = append(m.histories, h)

	if m.PredictErr != nil && (m.FailAt < 0 || m.FailAt == call) {
		return nil, m.PredictErr
	}
	return m.Script(h), nil
}

// Calls returns the number of Encode and Predict calls so far.
func (m *Mock) Calls() (encode, predict int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encodeCalls, m.predictCalls
}

// Histories returns the decoder histories passed to Predict, in call order.
func (m *Mock) Histories() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int, len(m.histories))
	copy(out, m.histories)
	return out
}

// PointMass puts all probability on id: its score is 0 and every other
// score is -Inf.
func PointMass(vocabSize, id int) []float32 {
	scores := make([]float32, vocabSize)
	for i := range scores {
		if i != id {
			scores[i] = float32(math.Inf(-1))
		}
	}
	return scores
}

// Follow scripts a model that emits seq with probability one, one token per
// step, then fallback forever.
func Follow(vocabSize int, seq []int, fallback int) ScriptFunc {
	return func(history []int) []float32 {
		pos := len(history) - 1
		if pos < len(seq) {
			return PointMass(vocabSize, seq[pos])
		}
		return PointMass(vocabSize, fallback)
	}
}

// Constant scripts a model returning the same scores at every step.
func Constant(scores []float32) ScriptFunc {
	return func([]int) []float32 {
		out := make([]float32, len(scores))
		copy(out, scores)
		return out
	}
}
