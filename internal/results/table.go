package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/metrics"
)

// Format selects the on-disk serialization of a Table.
type Format string

const (
	FormatJSON  Format = "json"
	FormatArrow Format = "arrow"
)

// ParseFormat accepts "json", "arrow" and "ipc".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "arrow", "ipc":
		return FormatArrow, nil
	}
	return "", fmt.Errorf("unknown result format %q", s)
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	if f == FormatArrow {
		return "arrow"
	}
	return "json"
}

// Table is every step of every run of a corpus, in sentence order then
// step order.
type Table struct {
	Corpus string
	Mode   string
	Rows   []decoding.Step

	runs int
}

func NewTable(corpus, mode string) *Table {
	return &Table{Corpus: corpus, Mode: mode}
}

// Append flattens a finalized run into the table.
func (t *Table) Append(run *decoding.Run) {
	t.Rows = append(t.Rows, run.Steps...)
	t.runs++
}

func (t *Table) Len() int { return len(t.Rows) }

// Runs is the number of sentences appended.
func (t *Table) Runs() int { return t.runs }

// FileName is the conventional output name, e.g. entropies_news_forced.json.
func (t *Table) FileName(f Format) string {
	return fmt.Sprintf("entropies_%s_%s.%s", t.Corpus, t.Mode, f.Ext())
}

// Save writes the table to path, creating parent directories.
func (t *Table) Save(path string, f Format) error {
	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}

	switch f {
	case FormatArrow:
		err = t.WriteArrow(out)
	default:
		err = t.WriteJSON(out)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s results: %w", f, err)
	}

	metrics.RecordPersist(string(f), t.Len(), time.Since(start))
	return nil
}

// Load reads a table written by Save.
func Load(path string, f Format) (*Table, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	defer in.Close()

	if f == FormatArrow {
		return ReadArrow(in)
	}
	return ReadJSON(in)
}
