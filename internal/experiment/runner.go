package experiment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-hesitation/internal/corpus"
	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/logger"
	"github.com/23skdu/longbow-hesitation/internal/metrics"
	"github.com/23skdu/longbow-hesitation/internal/monitoring"
	"github.com/23skdu/longbow-hesitation/internal/results"
	"github.com/23skdu/longbow-hesitation/internal/vocab"
)

const progressEvery = 100

// Model is the encoder and next-token predictor of a translation model.
type Model interface {
	decoding.Encoder
	decoding.Predictor
}

// Uploader ships a finished result table somewhere else.
type Uploader interface {
	Upload(ctx context.Context, path []string, rec arrow.Record) error
}

type Options struct {
	CorpusDir    string
	SourceSuffix string
	TargetSuffix string

	ResultsDir string
	Format     results.Format

	Strategy          decoding.StrategyConfig
	MaxSteps          int
	KeepDistributions bool
}

// Runner decodes a whole corpus and persists one result table.
type Runner struct {
	model    Model
	src, trg *vocab.Vocabulary
	opts     Options

	uploader Uploader
	monitor  *monitoring.HealthMonitor
}

func NewRunner(m Model, src, trg *vocab.Vocabulary, opts Options) (*Runner, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	if src == nil || trg == nil {
		return nil, fmt.Errorf("source and target vocabularies are required")
	}
	if opts.ResultsDir == "" {
		return nil, fmt.Errorf("results dir is required")
	}
	if opts.SourceSuffix == "" {
		opts.SourceSuffix = corpus.DefaultSourceSuffix
	}
	if opts.TargetSuffix == "" {
		opts.TargetSuffix = corpus.DefaultTargetSuffix
	}
	if opts.Format == "" {
		opts.Format = results.FormatJSON
	}
	return &Runner{model: m, src: src, trg: trg, opts: opts}, nil
}

// WithUploader sends the table through u after it is saved.
func (r *Runner) WithUploader(u Uploader) *Runner {
	r.uploader = u
	return r
}

// WithMonitor reports run progress to hm.
func (r *Runner) WithMonitor(hm *monitoring.HealthMonitor) *Runner {
	r.monitor = hm
	return r
}

// Report describes a completed corpus run.
type Report struct {
	Corpus  string
	Mode    decoding.Mode
	Path    string
	Table   *results.Table
	Summary results.Summary
	Elapsed time.Duration
}

// Run decodes every sentence of corpus name. Nothing is persisted unless
// every sentence succeeds.
func (r *Runner) Run(ctx context.Context, name string) (rep *Report, err error) {
	start := time.Now()
	mode := r.opts.Strategy.Mode
	log := logger.Log.With("corpus", name, "mode", mode.String())

	if r.monitor != nil {
		r.monitor.BeginRun(name, mode.String())
		defer func() { r.monitor.EndRun(err) }()
	}

	strategy, err := decoding.NewStrategy(r.opts.Strategy)
	if err != nil {
		return nil, err
	}
	dec, err := decoding.NewDecoder(r.model, decoding.Options{
		Strategy:          strategy,
		MaxSteps:          r.opts.MaxSteps,
		BOS:               r.trg.BOS(),
		EOS:               r.trg.EOS(),
		VocabSize:         r.trg.Size(),
		KeepDistributions: r.opts.KeepDistributions,
	})
	if err != nil {
		return nil, err
	}

	rdr, err := corpus.Open(r.opts.CorpusDir, name, r.opts.SourceSuffix, r.opts.TargetSuffix, mode == decoding.Forced)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	if mode.UsesGold() && !rdr.HasTarget() {
		log.Warn("No target side found, exclude-gold falls back to greedy selection")
	}

	table := results.NewTable(name, mode.String())
	for rdr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := r.sentence(ctx, dec, rdr.Pair())
		if err != nil {
			return nil, err
		}
		table.Append(run)

		if logger.Log.DebugEnabled() {
			text, _ := r.trg.Detokenize(run.Output)
			log.Debug("Decoded sentence", "sentence", run.Sentence, "steps", run.Len(), "stop", string(run.Reason), "translation", text)
		}
		if table.Runs()%progressEvery == 0 {
			log.Info("Progress", "sentences", table.Runs(), "steps", table.Len())
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", name, err)
	}

	path := filepath.Join(r.opts.ResultsDir, table.FileName(r.opts.Format))
	if err := table.Save(path, r.opts.Format); err != nil {
		return nil, err
	}
	log.Info("Saved results", "path", path, "rows", table.Len())

	if r.uploader != nil {
		if err := r.upload(ctx, table); err != nil {
			return nil, err
		}
	}

	rep = &Report{
		Corpus:  name,
		Mode:    mode,
		Path:    path,
		Table:   table,
		Summary: table.Summarize(),
		Elapsed: time.Since(start),
	}
	log.Info("Corpus done",
		"sentences", rep.Summary.Sentences,
		"steps", rep.Summary.Steps,
		"mean_entropy", rep.Summary.MeanEntropy,
		"gold_agreement", rep.Summary.GoldAgreement,
		"elapsed", rep.Elapsed)
	return rep, nil
}

func (r *Runner) sentence(ctx context.Context, dec *decoding.Decoder, pair corpus.Pair) (*decoding.Run, error) {
	srcIDs, err := r.src.Encode(pair.Source)
	if err != nil {
		metrics.RecordError("vocabulary")
		return nil, fmt.Errorf("sentence %d source: %w", pair.Index, err)
	}
	srcIDs = append(srcIDs, r.src.EOS())

	start := time.Now()
	enc, err := r.model.Encode(ctx, srcIDs)
	metrics.RecordEncode(time.Since(start))
	if err != nil {
		metrics.RecordError("encode")
		return nil, fmt.Errorf("sentence %d encode: %w", pair.Index, err)
	}

	var gold []int
	if pair.Target != nil {
		if gold, err = r.trg.Encode(pair.Target); err != nil {
			metrics.RecordError("vocabulary")
			return nil, fmt.Errorf("sentence %d target: %w", pair.Index, err)
		}
	}

	run, err := dec.Run(ctx, pair.Index, enc, gold)
	if err != nil {
		return nil, fmt.Errorf("sentence %d: %w", pair.Index, err)
	}
	return run, nil
}

func (r *Runner) upload(ctx context.Context, table *results.Table) error {
	rec := table.Record(memory.NewGoAllocator())
	defer rec.Release()

	err := r.uploader.Upload(ctx, []string{"entropies", table.Corpus, table.Mode}, rec)
	metrics.RecordUpload(err)
	if err != nil {
		return fmt.Errorf("upload results: %w", err)
	}
	return nil
}

// IsInputError reports whether err stems from malformed input rather than
// from the model.
func IsInputError(err error) bool {
	var shape *decoding.InputShapeError
	var lookup *vocab.LookupError
	return errors.As(err, &shape) || errors.As(err, &lookup)
}
