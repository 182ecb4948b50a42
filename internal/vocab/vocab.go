package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	UnkToken = "<unk>"
	PadToken = "<pad>"
	BosToken = "<s>"
	EosToken = "</s>"

	// piece boundary marker used by SentencePiece models
	spaceMarker = "▁"
)

// Specials are always the first entries of a vocabulary, in this order,
// whether or not the vocab file lists them.
var Specials = []string{UnkToken, PadToken, BosToken, EosToken}

// LookupError reports a token or id that the vocabulary cannot resolve.
type LookupError struct {
	Token string
	ID    int
}

func (e *LookupError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("token %q not in vocabulary", e.Token)
	}
	return fmt.Sprintf("id %d not in vocabulary", e.ID)
}

// Vocabulary maps tokens to integer ids and back.
type Vocabulary struct {
	Tokens []string
	Index  map[string]int

	// Strict disables the <unk> fallback of ID.
	Strict bool
}

// Load reads a vocab file with one token per line; a token's id is its
// position after the special tokens.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	v, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Read parses a vocabulary from r.
func Read(r io.Reader) (*Vocabulary, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r\n")
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return FromTokens(tokens), nil
}

// FromTokens builds a vocabulary from an ordered token list. Duplicates keep
// their first id.
func FromTokens(tokens []string) *Vocabulary {
	v := &Vocabulary{
		Tokens: make([]string, 0, len(tokens)+len(Specials)),
		Index:  make(map[string]int, len(tokens)+len(Specials)),
	}
	for _, tok := range Specials {
		v.add(tok)
	}
	for _, tok := range tokens {
		v.add(tok)
	}
	return v
}

func (v *Vocabulary) add(tok string) {
	if _, ok := v.Index[tok]; ok {
		return
	}
	v.Index[tok] = len(v.Tokens)
	v.Tokens = append(v.Tokens, tok)
}

func (v *Vocabulary) Size() int { return len(v.Tokens) }

func (v *Vocabulary) BOS() int { return v.Index[BosToken] }
func (v *Vocabulary) EOS() int { return v.Index[EosToken] }
func (v *Vocabulary) Unk() int { return v.Index[UnkToken] }

// ID resolves a token. Unknown tokens map to <unk> unless Strict is set.
func (v *Vocabulary) ID(token string) (int, error) {
	if id, ok := v.Index[token]; ok {
		return id, nil
	}
	if v.Strict {
		return 0, &LookupError{Token: token}
	}
	return v.Unk(), nil
}

// Encode resolves every token, stopping at the first failure.
func (v *Vocabulary) Encode(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, err := v.ID(tok)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Token returns the token string for id.
func (v *Vocabulary) Token(id int) (string, error) {
	if id < 0 || id >= len(v.Tokens) {
		return "", &LookupError{ID: id}
	}
	return v.Tokens[id], nil
}

// Pieces renders ids as space separated vocabulary entries.
func (v *Vocabulary) Pieces(ids []int) (string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		tok, err := v.Token(id)
		if err != nil {
			return "", err
		}
		parts[i] = tok
	}
	return strings.Join(parts, " "), nil
}

// Detokenize joins SentencePiece pieces into plain text. Special tokens are
// dropped.
func (v *Vocabulary) Detokenize(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		tok, err := v.Token(id)
		if err != nil {
			return "", err
		}
		if id < len(Specials) {
			continue
		}
		sb.WriteString(strings.ReplaceAll(tok, spaceMarker, " "))
	}
	return strings.TrimSpace(sb.String()), nil
}
