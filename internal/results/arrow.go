package results

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
)

// column order of the Arrow schema
const (
	colSentence = iota
	colPosition
	colSentenceLength
	colLastPosition
	colEntropy
	colMargin
	colPredictedToken
	colPredictedLogProb
	colSelectedToken
	colSelectedLogProb
	colGoldToken
	colGoldLogProb
	colLogProbs
	numColumns
)

var fields = []arrow.Field{
	{Name: "sentence_index", Type: arrow.PrimitiveTypes.Int64},
	{Name: "token_position", Type: arrow.PrimitiveTypes.Int64},
	{Name: "sentence_length", Type: arrow.PrimitiveTypes.Int64},
	{Name: "last_position", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entropy", Type: arrow.PrimitiveTypes.Float64},
	{Name: "margin", Type: arrow.PrimitiveTypes.Float64},
	{Name: "predicted_token_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "predicted_log_prob", Type: arrow.PrimitiveTypes.Float64},
	{Name: "selected_token_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "selected_log_prob", Type: arrow.PrimitiveTypes.Float64},
	{Name: "gold_token_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "gold_log_prob", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "log_probs", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32), Nullable: true},
}

// Schema returns the Arrow schema of a result table; corpus, mode and
// sentence count travel as schema metadata.
func (t *Table) Schema() *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"corpus", "mode", "sentences"},
		[]string{t.Corpus, t.Mode, strconv.Itoa(t.runs)},
	)
	return arrow.NewSchema(fields, &md)
}

// Record builds a single Arrow record holding every row. The caller
// releases it.
func (t *Table) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, t.Schema())
	defer b.Release()

	ints := func(i int) *array.Int64Builder { return b.Field(i).(*array.Int64Builder) }
	floats := func(i int) *array.Float64Builder { return b.Field(i).(*array.Float64Builder) }
	lists := b.Field(colLogProbs).(*array.ListBuilder)
	values := lists.ValueBuilder().(*array.Float32Builder)

	for _, s := range t.Rows {
		ints(colSentence).Append(int64(s.Sentence))
		ints(colPosition).Append(int64(s.Position))
		ints(colSentenceLength).Append(int64(s.SentenceLength))
		ints(colLastPosition).Append(int64(s.LastPosition))
		floats(colEntropy).Append(s.Entropy)
		floats(colMargin).Append(s.Margin)
		ints(colPredictedToken).Append(int64(s.PredictedToken))
		floats(colPredictedLogProb).Append(s.PredictedLogProb)
		ints(colSelectedToken).Append(int64(s.SelectedToken))
		floats(colSelectedLogProb).Append(s.SelectedLogProb)

		if s.HasGold {
			ints(colGoldToken).Append(int64(s.GoldToken))
			floats(colGoldLogProb).Append(s.GoldLogProb)
		} else {
			ints(colGoldToken).AppendNull()
			floats(colGoldLogProb).AppendNull()
		}

		if s.LogProbs == nil {
			lists.AppendNull()
		} else {
			lists.Append(true)
			values.AppendValues(s.LogProbs, nil)
		}
	}
	return b.NewRecord()
}

// WriteArrow writes the table as an Arrow IPC file.
func (t *Table) WriteArrow(w io.Writer) error {
	mem := memory.NewGoAllocator()
	rec := t.Record(mem)
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("create arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	return fw.Close()
}

// ReadArrow reads a table written by WriteArrow.
func ReadArrow(r ipc.ReadAtSeeker) (*Table, error) {
	mem := memory.NewGoAllocator()
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("open arrow file: %w", err)
	}
	defer fr.Close()

	t := tableFromSchema(fr.Schema())
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("read arrow record %d: %w", i, err)
		}
		if err := t.appendRecord(rec); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromRecords rebuilds a table from records sharing schema.
func FromRecords(schema *arrow.Schema, recs ...arrow.Record) (*Table, error) {
	t := tableFromSchema(schema)
	for _, rec := range recs {
		if err := t.appendRecord(rec); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func tableFromSchema(schema *arrow.Schema) *Table {
	t := &Table{}
	md := schema.Metadata()
	if i := md.FindKey("corpus"); i >= 0 {
		t.Corpus = md.Values()[i]
	}
	if i := md.FindKey("mode"); i >= 0 {
		t.Mode = md.Values()[i]
	}
	if i := md.FindKey("sentences"); i >= 0 {
		t.runs, _ = strconv.Atoi(md.Values()[i])
	}
	return t
}

func (t *Table) appendRecord(rec arrow.Record) error {
	if int(rec.NumCols()) != numColumns {
		return fmt.Errorf("arrow record has %d columns, expected %d", rec.NumCols(), numColumns)
	}
	for i, f := range fields {
		if !arrow.TypeEqual(rec.Schema().Field(i).Type, f.Type) {
			return fmt.Errorf("arrow column %d (%s) has type %s, expected %s", i, rec.Schema().Field(i).Name, rec.Schema().Field(i).Type, f.Type)
		}
	}

	ints := func(i int) *array.Int64 { return rec.Column(i).(*array.Int64) }
	floats := func(i int) *array.Float64 { return rec.Column(i).(*array.Float64) }
	lists := rec.Column(colLogProbs).(*array.List)
	values := lists.ListValues().(*array.Float32)

	for j := 0; j < int(rec.NumRows()); j++ {
		s := decoding.Step{
			Sentence:         int(ints(colSentence).Value(j)),
			Position:         int(ints(colPosition).Value(j)),
			SentenceLength:   int(ints(colSentenceLength).Value(j)),
			LastPosition:     int(ints(colLastPosition).Value(j)),
			Entropy:          floats(colEntropy).Value(j),
			Margin:           floats(colMargin).Value(j),
			PredictedToken:   int(ints(colPredictedToken).Value(j)),
			PredictedLogProb: floats(colPredictedLogProb).Value(j),
			SelectedToken:    int(ints(colSelectedToken).Value(j)),
			SelectedLogProb:  floats(colSelectedLogProb).Value(j),
		}
		if gold := ints(colGoldToken); gold.IsValid(j) {
			s.HasGold = true
			s.GoldToken = int(gold.Value(j))
			s.GoldLogProb = floats(colGoldLogProb).Value(j)
		}
		if lists.IsValid(j) {
			start, end := lists.ValueOffsets(j)
			s.LogProbs = make([]float32, 0, end-start)
			for k := start; k < end; k++ {
				s.LogProbs = append(s.LogProbs, values.Value(int(k)))
			}
		}
		t.Rows = append(t.Rows, s)
	}
	return nil
}
