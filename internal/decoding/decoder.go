package decoding

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-hesitation/internal/metrics"
)

// Encoding is the encoder output for one source sentence. Remote encoders
// may leave Data empty and identify the tensor by Handle instead.
type Encoding struct {
	BatchSize int
	Length    int
	Dim       int
	Handle    string
	Data      []float32
}

// Validate checks the single-sentence shape the decoder relies on.
func (e Encoding) Validate() error {
	if e.BatchSize != 1 || e.Length <= 0 {
		return &InputShapeError{BatchSize: e.BatchSize, Length: e.Length}
	}
	if len(e.Data) > 0 && len(e.Data) != e.BatchSize*e.Length*e.Dim {
		return &InputShapeError{
			BatchSize: e.BatchSize,
			Length:    e.Length,
			Err:       fmt.Errorf("encoding holds %d values, shape [%d %d %d] needs %d", len(e.Data), e.BatchSize, e.Length, e.Dim, e.BatchSize*e.Length*e.Dim),
		}
	}
	return nil
}

// Encoder turns source token ids (already terminated with the end marker)
// into an Encoding.
type Encoder interface {
	Encode(ctx context.Context, src []int) (Encoding, error)
}

// Predictor scores the next target token given the decoder history. It must
// return one score per target vocabulary entry.
type Predictor interface {
	Predict(ctx context.Context, history []int, enc Encoding) ([]float32, error)
}

// Step is one row of the result table.
type Step struct {
	Sentence       int
	Position       int
	SentenceLength int
	LastPosition   int

	Entropy float64
	Margin  float64

	PredictedToken   int
	PredictedLogProb float64
	SelectedToken    int
	SelectedLogProb  float64

	// HasGold is false past the end of the gold sequence and for runs
	// without one; the gold fields are meaningless then.
	HasGold     bool
	GoldToken   int
	GoldLogProb float64

	// LogProbs is only filled when Options.KeepDistributions is set.
	LogProbs []float32
}

// Termination records why a run stopped.
type Termination string

const (
	EndOfGold   Termination = "gold"
	EndMarker   Termination = "eos"
	StepsBudget Termination = "budget"
)

// Run is the decoding trace of one sentence.
type Run struct {
	Sentence int
	Mode     Mode
	Steps    []Step
	// History is the decoder input: BOS followed by every selected token.
	History []int
	// Output holds the selected tokens without the end marker.
	Output []int
	Reason Termination

	finalized bool
}

func (r *Run) Len() int { return len(r.Steps) }

// finalize backfills the length fields once the last step index is known.
func (r *Run) finalize(last int, reason Termination) {
	if r.finalized {
		return
	}
	for i := range r.Steps {
		r.Steps[i].SentenceLength = last + 1
		r.Steps[i].LastPosition = last
	}
	r.Reason = reason
	r.finalized = true
}

// Options configures a Decoder.
type Options struct {
	Strategy Strategy
	// MaxSteps bounds free decoding; forced decoding runs for the gold length.
	MaxSteps  int
	BOS       int
	EOS       int
	VocabSize int

	KeepDistributions bool
}

func (o Options) validate() error {
	if o.Strategy == nil {
		return fmt.Errorf("strategy is required")
	}
	if o.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", o.VocabSize)
	}
	if o.Strategy.Mode() == ExcludeGold && o.VocabSize < 2 {
		return fmt.Errorf("exclude-gold needs at least 2 target tokens, vocab_size is %d", o.VocabSize)
	}
	if o.Strategy.Mode() != Forced && o.MaxSteps <= 0 {
		return fmt.Errorf("invalid max_steps: %d (must be positive)", o.MaxSteps)
	}
	for name, id := range map[string]int{"bos": o.BOS, "eos": o.EOS} {
		if id < 0 || id >= o.VocabSize {
			return fmt.Errorf("invalid %s id: %d (vocab_size %d)", name, id, o.VocabSize)
		}
	}
	return nil
}

// Decoder runs the instrumentation loop against a Predictor.
type Decoder struct {
	predictor Predictor
	opts      Options
}

func NewDecoder(p Predictor, opts Options) (*Decoder, error) {
	if p == nil {
		return nil, fmt.Errorf("predictor is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Decoder{predictor: p, opts: opts}, nil
}

func (d *Decoder) Mode() Mode { return d.opts.Strategy.Mode() }

// Run decodes one sentence. gold holds the reference token ids without the
// end marker; it is required for forced decoding and optional otherwise.
func (d *Decoder) Run(ctx context.Context, sentence int, enc Encoding, gold []int) (*Run, error) {
	mode := d.Mode()
	if err := enc.Validate(); err != nil {
		metrics.RecordError("input_shape")
		return nil, err
	}
	if mode == Forced && gold == nil {
		metrics.RecordError("input_shape")
		return nil, &InputShapeError{BatchSize: enc.BatchSize, Length: enc.Length, Err: ErrNoGold}
	}

	for _, id := range gold {
		if id < 0 || id >= d.opts.VocabSize {
			metrics.RecordError("input_shape")
			return nil, &InputShapeError{
				BatchSize: enc.BatchSize,
				Length:    enc.Length,
				Err:       fmt.Errorf("gold token %d outside target vocabulary of %d", id, d.opts.VocabSize),
			}
		}
	}

	var target []int
	if gold != nil {
		target = make([]int, 0, len(gold)+1)
		target = append(target, gold...)
		target = append(target, d.opts.EOS)
	}

	limit := d.opts.MaxSteps
	if mode == Forced {
		limit = len(target)
	}

	run := &Run{
		Sentence: sentence,
		Mode:     mode,
		Steps:    make([]Step, 0, limit),
		History:  append(make([]int, 0, limit+1), d.opts.BOS),
	}

	last := -1
	reason := StepsBudget
	if mode == Forced {
		reason = EndOfGold
	}
	for pos := 0; pos < limit; pos++ {
		dist, err := d.predict(ctx, sentence, pos, run.History, enc)
		if err != nil {
			return nil, err
		}

		goldTok := -1
		if pos < len(target) {
			goldTok = target[pos]
		}
		tok, err := d.opts.Strategy.Select(dist, goldTok)
		if err != nil {
			return nil, &PredictionError{Sentence: sentence, Position: pos, Err: err}
		}

		run.Steps = append(run.Steps, d.step(sentence, pos, dist, tok, goldTok))
		run.History = append(run.History, tok)
		last = pos

		if tok == d.opts.EOS && mode != Forced {
			reason = EndMarker
			break
		}
		if tok != d.opts.EOS {
			run.Output = append(run.Output, tok)
		}
	}

	run.finalize(last, reason)
	metrics.RecordSentence(mode.String(), run.Len())
	return run, nil
}

func (d *Decoder) predict(ctx context.Context, sentence, pos int, history []int, enc Encoding) (*Distribution, error) {
	start := time.Now()
	scores, err := d.predictor.Predict(ctx, history, enc)
	metrics.RecordPrediction(time.Since(start))
	if err != nil {
		metrics.RecordError("prediction")
		return nil, &PredictionError{Sentence: sentence, Position: pos, Err: err}
	}
	if len(scores) != d.opts.VocabSize {
		metrics.RecordError("prediction")
		return nil, &PredictionError{
			Sentence: sentence,
			Position: pos,
			Err:      fmt.Errorf("%w: got %d scores, vocab_size %d", ErrVocabMismatch, len(scores), d.opts.VocabSize),
		}
	}

	audit := AuditLogits(scores)
	audit.record()
	if err := audit.Err(); err != nil {
		metrics.RecordError("prediction")
		return nil, &PredictionError{Sentence: sentence, Position: pos, Err: err}
	}
	return NewDistribution(scores), nil
}

func (d *Decoder) step(sentence, pos int, dist *Distribution, tok, gold int) Step {
	pred := dist.Argmax()
	s := Step{
		Sentence:         sentence,
		Position:         pos,
		Entropy:          dist.Entropy(),
		Margin:           dist.Margin(),
		PredictedToken:   pred,
		PredictedLogProb: dist.LogProb(pred),
		SelectedToken:    tok,
		SelectedLogProb:  dist.LogProb(tok),
	}
	if gold >= 0 && gold < dist.Len() {
		s.HasGold = true
		s.GoldToken = gold
		s.GoldLogProb = dist.LogProb(gold)
	}
	if d.opts.KeepDistributions {
		s.LogProbs = dist.LogProbs32()
	}
	metrics.RecordStep(d.Mode().String(), s.Entropy, dist.Prob(pred))
	return s
}
