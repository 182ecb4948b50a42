package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCorpus(t *testing.T, dir, name, src, trg string) {
	t.Helper()
	srcPath, trgPath := Paths(dir, name, DefaultSourceSuffix, DefaultTargetSuffix)
	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if trg != "" {
		if err := os.WriteFile(trgPath, []byte(trg), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpenParallel(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "X-a-fini",
		"▁l ' athlète ▁a ▁terminé\n▁le ▁chat\n",
		"▁the ▁athlete ▁finished\n▁the ▁cat\n")

	r, err := Open(dir, "X-a-fini", DefaultSourceSuffix, DefaultTargetSuffix, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var pairs []Pair
	for r.Next() {
		pairs = append(pairs, r.Pair())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if len(pairs[0].Source) != 5 || pairs[0].Source[1] != "'" {
		t.Errorf("unexpected source tokens %v", pairs[0].Source)
	}
	if strings.Join(pairs[1].Target, " ") != "▁the ▁cat" {
		t.Errorf("unexpected target tokens %v", pairs[1].Target)
	}
	if pairs[1].Index != 1 {
		t.Errorf("expected index 1, got %d", pairs[1].Index)
	}
}

func TestOpenSourceOnly(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "mono", "▁bonjour\n", "")

	r, err := Open(dir, "mono", DefaultSourceSuffix, DefaultTargetSuffix, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.HasTarget() {
		t.Error("expected no target side")
	}
	if !r.Next() {
		t.Fatalf("expected a pair, err=%v", r.Err())
	}
	if r.Pair().Target != nil {
		t.Errorf("expected nil target, got %v", r.Pair().Target)
	}
}

func TestOpenRequiresTarget(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "mono", "▁bonjour\n", "")

	if _, err := Open(dir, "mono", DefaultSourceSuffix, DefaultTargetSuffix, true); err == nil {
		t.Error("expected error when target is required but missing")
	}
}

func TestOpenMissingSource(t *testing.T) {
	if _, err := Open(t.TempDir(), "nothing", DefaultSourceSuffix, DefaultTargetSuffix, false); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestBlankLinesSkipped(t *testing.T) {
	r := NewReader(strings.NewReader("▁a\n\n▁b\n"), strings.NewReader("▁x\n\n▁y\n"))

	var got []string
	for r.Next() {
		p := r.Pair()
		got = append(got, p.Source[0]+"/"+p.Target[0])
	}
	if err := r.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if strings.Join(got, ",") != "▁a/▁x,▁b/▁y" {
		t.Errorf("unexpected pairs %v", got)
	}
}

func TestEmptyTargetLine(t *testing.T) {
	r := NewReader(strings.NewReader("▁a\n"), strings.NewReader("\n"))
	if !r.Next() {
		t.Fatalf("expected a pair, err=%v", r.Err())
	}
	if tgt := r.Pair().Target; tgt == nil || len(tgt) != 0 {
		t.Errorf("expected empty non-nil target, got %#v", tgt)
	}
}

func TestLengthMismatch(t *testing.T) {
	tests := []struct {
		name string
		src  string
		trg  string
	}{
		{"target shorter", "▁a\n▁b\n", "▁x\n"},
		{"target longer", "▁a\n", "▁x\n▁y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.src), strings.NewReader(tt.trg))
			for r.Next() {
			}
			if !errors.Is(r.Err(), ErrLengthMismatch) {
				t.Errorf("expected ErrLengthMismatch, got %v", r.Err())
			}
		})
	}
}

func TestPaths(t *testing.T) {
	src, trg := Paths("/data", "news", DefaultSourceSuffix, DefaultTargetSuffix)
	if src != filepath.Join("/data", "news.gold.bpe.fra") || trg != filepath.Join("/data", "news.gold.bpe.eng") {
		t.Errorf("unexpected paths %s %s", src, trg)
	}
}
