package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/model"
	"github.com/23skdu/longbow-hesitation/internal/monitoring"
	"github.com/23skdu/longbow-hesitation/internal/results"
	"github.com/23skdu/longbow-hesitation/internal/vocab"
)

// target ids: ▁the=4 ▁cat=5 ▁sat=6, </s>=3
var (
	srcVocab = vocab.FromTokens([]string{"▁le", "▁chat", "▁assis"})
	trgVocab = vocab.FromTokens([]string{"▁the", "▁cat", "▁sat"})
)

func writeCorpus(t *testing.T, dir, name, src, trg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".gold.bpe.fra"), []byte(src), 0o644))
	if trg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".gold.bpe.eng"), []byte(trg), 0o644))
	}
}

func newRunner(t *testing.T, m Model, dir string, mode decoding.Mode, format results.Format) *Runner {
	t.Helper()
	r, err := NewRunner(m, srcVocab, trgVocab, Options{
		CorpusDir:  dir,
		ResultsDir: filepath.Join(dir, "results"),
		Format:     format,
		Strategy:   decoding.StrategyConfig{Mode: mode, TopK: 2, Seed: 7},
		MaxSteps:   10,
	})
	require.NoError(t, err)
	return r
}

func agreeingModel() *model.Mock {
	m := model.NewMock(trgVocab.Size())
	m.Script = model.Follow(trgVocab.Size(), []int{4, 5, 6, 3}, 3)
	return m
}

func TestForcedCorpusRun(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "tiny",
		"▁le ▁chat ▁assis\n▁le\n",
		"▁the ▁cat ▁sat\n▁the\n")

	m := agreeingModel()
	rep, err := newRunner(t, m, dir, decoding.Forced, results.FormatJSON).Run(context.Background(), "tiny")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "results", "entropies_tiny_forced.json"), rep.Path)
	assert.Equal(t, 2, rep.Summary.Sentences)
	assert.Equal(t, 6, rep.Summary.Steps)

	back, err := results.Load(rep.Path, results.FormatJSON)
	require.NoError(t, err)
	require.Equal(t, 6, back.Len())
	for _, row := range back.Rows[:4] {
		assert.Equal(t, 0, row.Sentence)
		assert.Equal(t, 4, row.SentenceLength)
		assert.Equal(t, 0.0, row.Entropy)
	}
	for _, row := range back.Rows[4:] {
		assert.Equal(t, 1, row.Sentence)
		assert.Equal(t, 2, row.SentenceLength)
	}
	// second sentence: gold is ▁the </s>, the model wanted ▁cat at step 1
	assert.Equal(t, 3, back.Rows[5].GoldToken)
	assert.Equal(t, 5, back.Rows[5].PredictedToken)

	encodes, predicts := m.Calls()
	assert.Equal(t, 2, encodes)
	assert.Equal(t, 6, predicts)
}

func TestGreedyWithoutTarget(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "notrg", "▁le ▁chat\n\n▁assis\n", "")

	rep, err := newRunner(t, agreeingModel(), dir, decoding.Greedy, results.FormatArrow).Run(context.Background(), "notrg")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(rep.Path, "entropies_notrg_greedy.arrow"))
	assert.Equal(t, 2, rep.Summary.Sentences)
	assert.Equal(t, 8, rep.Summary.Steps)
	assert.Zero(t, rep.Summary.GoldSteps)

	back, err := results.Load(rep.Path, results.FormatArrow)
	require.NoError(t, err)
	assert.Equal(t, "greedy", back.Mode)
	assert.Equal(t, 8, back.Len())
	assert.False(t, back.Rows[0].HasGold)
}

func TestExcludeGoldRun(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "eg", "▁le ▁chat\n", "▁the ▁cat\n")

	rep, err := newRunner(t, agreeingModel(), dir, decoding.ExcludeGold, results.FormatJSON).Run(context.Background(), "eg")
	require.NoError(t, err)
	for _, row := range rep.Table.Rows {
		if row.HasGold {
			assert.NotEqual(t, row.GoldToken, row.SelectedToken)
		}
	}
}

func TestForcedRequiresTarget(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "src-only", "▁le\n", "")

	_, err := newRunner(t, agreeingModel(), dir, decoding.Forced, results.FormatJSON).Run(context.Background(), "src-only")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPredictionFailureLeavesNoResults(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "fail", "▁le\n▁chat\n", "▁the\n▁cat\n")

	m := agreeingModel()
	m.PredictErr = errors.New("CUDA out of memory")
	m.FailAt = 3

	_, err := newRunner(t, m, dir, decoding.Forced, results.FormatJSON).Run(context.Background(), "fail")
	require.Error(t, err)

	var perr *decoding.PredictionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Sentence)
	assert.Equal(t, 1, perr.Position)
	assert.False(t, IsInputError(err))

	_, statErr := os.Stat(filepath.Join(dir, "results", "entropies_fail_forced.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStrictVocabularyLookup(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "oov", "▁le ▁chien\n", "▁the ▁dog\n")

	strict := vocab.FromTokens([]string{"▁le", "▁chat"})
	strict.Strict = true
	r, err := NewRunner(agreeingModel(), strict, trgVocab, Options{
		CorpusDir:  dir,
		ResultsDir: filepath.Join(dir, "results"),
		Strategy:   decoding.StrategyConfig{Mode: decoding.Forced},
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "oov")
	var lerr *vocab.LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "▁chien", lerr.Token)
	assert.True(t, IsInputError(err))
}

func TestCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "c", "▁le\n", "▁the\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, agreeingModel(), dir, decoding.Forced, results.FormatJSON).Run(ctx, "c")
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingUploader struct {
	path []string
	rows int64
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, path []string, rec arrow.Record) error {
	u.path = path
	u.rows = rec.NumRows()
	return u.err
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "up", "▁le ▁chat\n", "▁the ▁cat\n")

	u := &recordingUploader{}
	_, err := newRunner(t, agreeingModel(), dir, decoding.Forced, results.FormatJSON).
		WithUploader(u).
		Run(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, []string{"entropies", "up", "forced"}, u.path)
	assert.EqualValues(t, 3, u.rows)

	u.err = errors.New("sink down")
	_, err = newRunner(t, agreeingModel(), dir, decoding.Forced, results.FormatJSON).
		WithUploader(u).
		Run(context.Background(), "up")
	assert.ErrorContains(t, err, "sink down")
}

func TestMonitorSeesRun(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "mon", "▁le\n", "▁the\n")

	hm := monitoring.NewHealthMonitor()
	_, err := newRunner(t, agreeingModel(), dir, decoding.Forced, results.FormatJSON).
		WithMonitor(hm).
		Run(context.Background(), "mon")
	require.NoError(t, err)

	st := hm.Status()
	assert.Equal(t, "mon", st.Run.Corpus)
	assert.True(t, st.Run.Finished)
	assert.EqualValues(t, 1, st.Run.Sentences)
	assert.EqualValues(t, 2, st.Run.Steps)
	assert.Equal(t, "healthy", st.Status)
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(nil, srcVocab, trgVocab, Options{ResultsDir: "r"})
	assert.Error(t, err)
	_, err = NewRunner(agreeingModel(), nil, trgVocab, Options{ResultsDir: "r"})
	assert.Error(t, err)
	_, err = NewRunner(agreeingModel(), srcVocab, trgVocab, Options{})
	assert.Error(t, err)
}
