package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultSourceSuffix = ".gold.bpe.fra"
	DefaultTargetSuffix = ".gold.bpe.eng"
)

// ErrLengthMismatch is returned when the source and target files do not
// have the same number of lines.
var ErrLengthMismatch = errors.New("source and target line counts differ")

// Pair is one line-aligned sentence pair. Target is nil when the corpus has
// no target side.
type Pair struct {
	Index  int
	Source []string
	Target []string
}

// Reader walks a line-aligned parallel corpus.
type Reader struct {
	source  *bufio.Scanner
	target  *bufio.Scanner
	closers []io.Closer

	index int
	pair  Pair
	err   error
}

// Paths returns the source and target file paths of corpus name in dir.
func Paths(dir, name, sourceSuffix, targetSuffix string) (string, string) {
	return filepath.Join(dir, name+sourceSuffix), filepath.Join(dir, name+targetSuffix)
}

// Open opens <dir>/<name><sourceSuffix> and, when present or required,
// <dir>/<name><targetSuffix>.
func Open(dir, name, sourceSuffix, targetSuffix string, requireTarget bool) (*Reader, error) {
	srcPath, trgPath := Paths(dir, name, sourceSuffix, targetSuffix)

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source corpus: %w", err)
	}

	var trg io.ReadCloser
	f, err := os.Open(trgPath)
	switch {
	case err == nil:
		trg = f
	case errors.Is(err, os.ErrNotExist) && !requireTarget:
	default:
		src.Close()
		return nil, fmt.Errorf("open target corpus: %w", err)
	}

	return NewReader(src, trg), nil
}

// NewReader reads pairs from src and, if non-nil, trg. Both are closed by
// Close when they implement io.Closer.
func NewReader(src io.Reader, trg io.Reader) *Reader {
	r := &Reader{source: newScanner(src)}
	if c, ok := src.(io.Closer); ok {
		r.closers = append(r.closers, c)
	}
	if trg != nil {
		r.target = newScanner(trg)
		if c, ok := trg.(io.Closer); ok {
			r.closers = append(r.closers, c)
		}
	}
	return r
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

func (r *Reader) HasTarget() bool { return r.target != nil }

// Next advances to the next pair. Blank source lines are skipped together
// with their target line.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		if !r.source.Scan() {
			r.err = r.source.Err()
			if r.err == nil && r.target != nil && r.target.Scan() && strings.TrimSpace(r.target.Text()) != "" {
				r.err = ErrLengthMismatch
			}
			return false
		}
		srcLine := r.source.Text()

		var trgLine string
		if r.target != nil {
			if !r.target.Scan() {
				if r.err = r.target.Err(); r.err == nil && strings.TrimSpace(srcLine) != "" {
					r.err = ErrLengthMismatch
				}
				return false
			}
			trgLine = r.target.Text()
		}

		if strings.TrimSpace(srcLine) == "" {
			continue
		}

		r.pair = Pair{Index: r.index, Source: strings.Fields(srcLine)}
		if r.target != nil {
			r.pair.Target = strings.Fields(trgLine)
			if r.pair.Target == nil {
				r.pair.Target = []string{}
			}
		}
		r.index++
		return true
	}
}

// Pair returns the pair read by the last successful Next.
func (r *Reader) Pair() Pair { return r.pair }

func (r *Reader) Err() error { return r.err }

func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
