package decoding

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Mode names a token-selection strategy.
type Mode int

const (
	Forced Mode = iota
	Greedy
	Ancestral
	TopK
	ExcludeGold
)

var modeNames = map[Mode]string{
	Forced:      "forced",
	Greedy:      "greedy",
	Ancestral:   "ancestral",
	TopK:        "top-k",
	ExcludeGold: "exclude-gold",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String, case-insensitively;
// "topk" and "exclude_gold" are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if norm == "topk" {
		norm = "top-k"
	}
	for m, name := range modeNames {
		if name == norm {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown decoding mode %q", s)
}

// UsesGold reports whether the strategy consumes the gold sequence.
func (m Mode) UsesGold() bool {
	return m == Forced || m == ExcludeGold
}

// Strategy picks the token appended to the decoder history. gold is the
// reference token at the current position, or -1 when there is none.
type Strategy interface {
	Mode() Mode
	Select(d *Distribution, gold int) (int, error)
}

type forcedStrategy struct{}

func (forcedStrategy) Mode() Mode { return Forced }

// Select ignores the model entirely.
func (forcedStrategy) Select(_ *Distribution, gold int) (int, error) {
	if gold < 0 {
		return 0, ErrNoGold
	}
	return gold, nil
}

type greedyStrategy struct{}

func (greedyStrategy) Mode() Mode { return Greedy }

func (greedyStrategy) Select(d *Distribution, _ int) (int, error) {
	return d.Argmax(), nil
}

type ancestralStrategy struct {
	src rand.Source
}

func (s *ancestralStrategy) Mode() Mode { return Ancestral }

func (s *ancestralStrategy) Select(d *Distribution, _ int) (int, error) {
	cat := distuv.NewCategorical(d.Probs, s.src)
	return int(cat.Rand()), nil
}

type topKStrategy struct {
	k   int
	src rand.Source
}

func (s *topKStrategy) Mode() Mode { return TopK }

func (s *topKStrategy) Select(d *Distribution, _ int) (int, error) {
	ids, weights := d.TopK(s.k)
	if len(ids) == 0 {
		return d.Argmax(), nil
	}
	cat := distuv.NewCategorical(weights, s.src)
	return ids[int(cat.Rand())], nil
}

type excludeGoldStrategy struct{}

func (excludeGoldStrategy) Mode() Mode { return ExcludeGold }

// Select falls back to greedy once the gold sequence is exhausted.
func (excludeGoldStrategy) Select(d *Distribution, gold int) (int, error) {
	if gold < 0 {
		return d.Argmax(), nil
	}
	return d.ArgmaxExcluding(gold), nil
}

// StrategyConfig parameterizes NewStrategy.
type StrategyConfig struct {
	Mode Mode
	TopK int
	// Seed for the sampling strategies; 0 seeds from the clock.
	Seed uint64
}

// NewStrategy builds the strategy for cfg.Mode.
func NewStrategy(cfg StrategyConfig) (Strategy, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	switch cfg.Mode {
	case Forced:
		return forcedStrategy{}, nil
	case Greedy:
		return greedyStrategy{}, nil
	case Ancestral:
		return &ancestralStrategy{src: src}, nil
	case TopK:
		if cfg.TopK <= 0 {
			return nil, fmt.Errorf("invalid top_k: %d (must be positive)", cfg.TopK)
		}
		return &topKStrategy{k: cfg.TopK, src: src}, nil
	case ExcludeGold:
		return excludeGoldStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown decoding mode %v", cfg.Mode)
}
