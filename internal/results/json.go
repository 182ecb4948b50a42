package results

import (
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
)

// JSON cannot carry infinities, so non-finite floats are written as null
// and read back as -Inf (the only non-finite value a log-probability takes).
type jsonRow struct {
	Sentence         int        `json:"sentence_index"`
	Position         int        `json:"token_position"`
	SentenceLength   int        `json:"sentence_length"`
	LastPosition     int        `json:"last_position"`
	Entropy          float64    `json:"entropy"`
	Margin           float64    `json:"margin"`
	PredictedToken   int        `json:"predicted_token_id"`
	PredictedLogProb *float64   `json:"predicted_log_prob"`
	SelectedToken    int        `json:"selected_token_id"`
	SelectedLogProb  *float64   `json:"selected_log_prob"`
	GoldToken        *int       `json:"gold_token_id"`
	GoldLogProb      *float64   `json:"gold_log_prob"`
	LogProbs         []*float32 `json:"log_probs,omitempty"`
}

type jsonTable struct {
	Corpus  string    `json:"corpus"`
	Mode    string    `json:"mode"`
	Runs    int       `json:"sentences"`
	Records []jsonRow `json:"records"`
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func orNegInf(v *float64) float64 {
	if v == nil {
		return math.Inf(-1)
	}
	return *v
}

func toJSONRow(s decoding.Step) jsonRow {
	r := jsonRow{
		Sentence:         s.Sentence,
		Position:         s.Position,
		SentenceLength:   s.SentenceLength,
		LastPosition:     s.LastPosition,
		Entropy:          s.Entropy,
		Margin:           s.Margin,
		PredictedToken:   s.PredictedToken,
		PredictedLogProb: finite(s.PredictedLogProb),
		SelectedToken:    s.SelectedToken,
		SelectedLogProb:  finite(s.SelectedLogProb),
	}
	if s.HasGold {
		gold := s.GoldToken
		r.GoldToken = &gold
		r.GoldLogProb = finite(s.GoldLogProb)
	}
	if s.LogProbs != nil {
		r.LogProbs = make([]*float32, len(s.LogProbs))
		for i, lp := range s.LogProbs {
			if !math.IsInf(float64(lp), 0) && !math.IsNaN(float64(lp)) {
				v := lp
				r.LogProbs[i] = &v
			}
		}
	}
	return r
}

func (r jsonRow) step() decoding.Step {
	s := decoding.Step{
		Sentence:         r.Sentence,
		Position:         r.Position,
		SentenceLength:   r.SentenceLength,
		LastPosition:     r.LastPosition,
		Entropy:          r.Entropy,
		Margin:           r.Margin,
		PredictedToken:   r.PredictedToken,
		PredictedLogProb: orNegInf(r.PredictedLogProb),
		SelectedToken:    r.SelectedToken,
		SelectedLogProb:  orNegInf(r.SelectedLogProb),
	}
	if r.GoldToken != nil {
		s.HasGold = true
		s.GoldToken = *r.GoldToken
		s.GoldLogProb = orNegInf(r.GoldLogProb)
	}
	if r.LogProbs != nil {
		s.LogProbs = make([]float32, len(r.LogProbs))
		for i, lp := range r.LogProbs {
			if lp == nil {
				s.LogProbs[i] = float32(math.Inf(-1))
			} else {
				s.LogProbs[i] = *lp
			}
		}
	}
	return s
}

// WriteJSON writes the table as a JSON object holding one record per step.
func (t *Table) WriteJSON(w io.Writer) error {
	out := jsonTable{
		Corpus:  t.Corpus,
		Mode:    t.Mode,
		Runs:    t.runs,
		Records: make([]jsonRow, len(t.Rows)),
	}
	for i, s := range t.Rows {
		out.Records[i] = toJSONRow(s)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// ReadJSON reads a table written by WriteJSON.
func ReadJSON(r io.Reader) (*Table, error) {
	var in jsonTable
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	t := &Table{Corpus: in.Corpus, Mode: in.Mode, runs: in.Runs, Rows: make([]decoding.Step, len(in.Records))}
	for i, row := range in.Records {
		t.Rows[i] = row.step()
	}
	return t, nil
}
