package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/flight"
)

func serve(t *testing.T, b Backend) *Remote {
	t.Helper()
	fs := flight.NewServer()
	NewServer(b).Register(fs)
	require.NoError(t, fs.Start("127.0.0.1:0"))
	t.Cleanup(fs.Stop)

	c := flight.NewClient(fs.Addr())
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return NewRemote(c)
}

func TestRemoteRoundTrip(t *testing.T) {
	mock := NewMock(6)
	mock.Script = Follow(6, []int{4, 5, 3}, 3)
	remote := serve(t, mock)
	ctx := context.Background()

	enc, err := remote.Encode(ctx, []int{7, 8, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, enc.BatchSize)
	assert.Equal(t, 3, enc.Length)
	assert.NotEmpty(t, enc.Handle)
	require.NoError(t, enc.Validate())

	scores, err := remote.Predict(ctx, []int{2}, enc)
	require.NoError(t, err)
	assert.Equal(t, PointMass(6, 4), scores)

	scores, err = remote.Predict(ctx, []int{2, 4}, enc)
	require.NoError(t, err)
	assert.Equal(t, float32(0), scores[5])
	assert.True(t, math.IsInf(float64(scores[0]), -1))

	assert.Equal(t, [][]int{{2}, {2, 4}}, mock.Histories())
}

func TestRemoteDecodesThroughLoop(t *testing.T) {
	const vocabSize = 8
	mock := NewMock(vocabSize)
	mock.Script = Follow(vocabSize, []int{4, 5, 6, 3}, 3)
	remote := serve(t, mock)

	strategy, err := decoding.NewStrategy(decoding.StrategyConfig{Mode: decoding.Greedy})
	require.NoError(t, err)
	dec, err := decoding.NewDecoder(remote, decoding.Options{
		Strategy:  strategy,
		MaxSteps:  10,
		BOS:       2,
		EOS:       3,
		VocabSize: vocabSize,
	})
	require.NoError(t, err)

	ctx := context.Background()
	enc, err := remote.Encode(ctx, []int{4, 3})
	require.NoError(t, err)
	run, err := dec.Run(ctx, 0, enc, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, run.Output)
	assert.Equal(t, decoding.EndMarker, run.Reason)
}

func TestRemoteErrors(t *testing.T) {
	mock := NewMock(4)
	remote := serve(t, mock)
	ctx := context.Background()

	_, err := remote.Predict(ctx, []int{2}, decoding.Encoding{BatchSize: 1, Length: 1, Handle: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown encoding handle")

	mock.EncodeErr = errors.New("encoder offline")
	_, err = remote.Encode(ctx, []int{3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder offline")
}

func TestServerRejectsNaN(t *testing.T) {
	nan := float32(math.NaN())
	mock := NewMock(3)
	mock.Script = Constant([]float32{0, nan, 0})
	remote := serve(t, mock)
	ctx := context.Background()

	enc, err := remote.Encode(ctx, []int{3})
	require.NoError(t, err)
	_, err = remote.Predict(ctx, []int{2}, enc)
	assert.Error(t, err)
}

func TestScorePacking(t *testing.T) {
	in := []float32{0, negInf, -1.5}
	packed := packScores(in)
	assert.Nil(t, packed[1])
	assert.Equal(t, in, unpackScores(packed))
}
