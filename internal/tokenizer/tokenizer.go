package tokenizer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// Special token ids shared by every mode
const (
	PadID = 0
	UnkID = 1
	ClsID = 2
	SepID = 3

	numSpecial = 4
)

// FileName is the tokenizer file inside a saved tokenizer directory
const FileName = "tokenizer.json"

var specialTokens = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]"}

// Modes
const (
	ModeBPE  = "bpe"
	ModeWord = "word"
)

var (
	wordRegex  = regexp.MustCompile(`[\p{L}\p{N}]+|[^\s\p{L}\p{N}]`)
	loaderOnce sync.Once
)

// Config controls how a tokenizer vocabulary is built
type Config struct {
	Mode         string
	Encoding     string // tiktoken encoding, bpe mode only
	VocabSize    int    // including special tokens
	MinFrequency int
	MaxLength    int
}

// Encoding is a fixed-length model input
type Encoding struct {
	IDs           []int `json:"input_ids"`
	AttentionMask []int `json:"attention_mask"`
}

// Length is the number of unpadded positions
func (e Encoding) Length() int {
	n := 0
	for _, m := range e.AttentionMask {
		n += m
	}
	return n
}

// Tokenizer converts text to model input ids. Ids below numSpecial are the
// special tokens; the rest index into a vocabulary learned from training
// text.
type Tokenizer struct {
	mode         string
	encodingName string
	maxLength    int

	// word mode
	vocab     []string
	pieceToID map[string]int

	// bpe mode
	bpe        *tiktoken.Tiktoken
	bpeMu      sync.Mutex
	localToBPE []int
	bpeToLocal map[int]int
}

// savedTokenizer is the on-disk form
type savedTokenizer struct {
	Version       int      `json:"version"`
	Mode          string   `json:"mode"`
	Encoding      string   `json:"encoding,omitempty"`
	MaxLength     int      `json:"max_length"`
	SpecialTokens []string `json:"special_tokens"`
	Vocab         []string `json:"vocab,omitempty"`
	BPETokenIDs   []int    `json:"bpe_token_ids,omitempty"`
}

// Train builds a tokenizer whose vocabulary is the most frequent pieces of
// texts
func Train(texts []string, cfg Config) (*Tokenizer, error) {
	if cfg.MaxLength < 3 {
		return nil, fmt.Errorf("max length must be at least 3, got %d", cfg.MaxLength)
	}
	limit := cfg.VocabSize - numSpecial
	if limit < 1 {
		return nil, fmt.Errorf("vocab size must exceed %d special tokens, got %d", numSpecial, cfg.VocabSize)
	}

	switch cfg.Mode {
	case ModeWord:
		counts := make(map[string]int)
		for _, text := range texts {
			for _, p := range wordPieces(text) {
				counts[p]++
			}
		}
		vocab := topKeys(counts, cfg.MinFrequency, limit)
		return newWordTokenizer(vocab, cfg.MaxLength), nil

	case ModeBPE:
		enc, err := getEncoding(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		counts := make(map[int]int)
		for _, text := range texts {
			for _, id := range enc.EncodeOrdinary(text) {
				counts[id]++
			}
		}
		ids := topKeys(counts, cfg.MinFrequency, limit)
		return newBPETokenizer(enc, cfg.Encoding, ids, cfg.MaxLength), nil
	}

	return nil, fmt.Errorf("unknown tokenizer mode %q", cfg.Mode)
}

func newWordTokenizer(vocab []string, maxLength int) *Tokenizer {
	pieceToID := make(map[string]int, len(vocab))
	for i, p := range vocab {
		pieceToID[p] = numSpecial + i
	}
	return &Tokenizer{
		mode:      ModeWord,
		maxLength: maxLength,
		vocab:     vocab,
		pieceToID: pieceToID,
	}
}

func newBPETokenizer(enc *tiktoken.Tiktoken, name string, ids []int, maxLength int) *Tokenizer {
	bpeToLocal := make(map[int]int, len(ids))
	for i, id := range ids {
		bpeToLocal[id] = numSpecial + i
	}
	return &Tokenizer{
		mode:         ModeBPE,
		encodingName: name,
		maxLength:    maxLength,
		bpe:          enc,
		localToBPE:   ids,
		bpeToLocal:   bpeToLocal,
	}
}

func getEncoding(name string) (*tiktoken.Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	if name == "" {
		name = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", name, err)
	}
	return enc, nil
}

// Mode returns "bpe" or "word"
func (t *Tokenizer) Mode() string { return t.mode }

// MaxLength is the fixed length of every Encoding
func (t *Tokenizer) MaxLength() int { return t.maxLength }

// VocabSize counts special tokens and learned pieces
func (t *Tokenizer) VocabSize() int {
	if t.mode == ModeBPE {
		return numSpecial + len(t.localToBPE)
	}
	return numSpecial + len(t.vocab)
}

// Tokens returns the unpadded, untruncated ids for text
func (t *Tokenizer) Tokens(text string) []int {
	if t.mode == ModeBPE {
		t.bpeMu.Lock()
		raw := t.bpe.EncodeOrdinary(text)
		t.bpeMu.Unlock()

		out := make([]int, len(raw))
		for i, id := range raw {
			if local, ok := t.bpeToLocal[id]; ok {
				out[i] = local
			} else {
				out[i] = UnkID
			}
		}
		return out
	}

	pieces := wordPieces(text)
	out := make([]int, len(pieces))
	for i, p := range pieces {
		if id, ok := t.pieceToID[p]; ok {
			out[i] = id
		} else {
			out[i] = UnkID
		}
	}
	return out
}

// Encode returns [CLS] tokens [SEP] truncated and padded to MaxLength
func (t *Tokenizer) Encode(text string) Encoding {
	tokens := t.Tokens(text)
	if limit := t.maxLength - 2; len(tokens) > limit {
		tokens = tokens[:limit]
	}

	ids := make([]int, t.maxLength)
	mask := make([]int, t.maxLength)
	ids[0], mask[0] = ClsID, 1
	copy(ids[1:], tokens)
	for i := 1; i <= len(tokens); i++ {
		mask[i] = 1
	}
	ids[len(tokens)+1], mask[len(tokens)+1] = SepID, 1
	// remaining ids are already PadID
	return Encoding{IDs: ids, AttentionMask: mask}
}

// EncodeBatch encodes texts with up to workers goroutines
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string, workers int) ([]Encoding, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]Encoding, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range texts {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = t.Encode(texts[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode turns ids back into text, skipping special tokens
func (t *Tokenizer) Decode(ids []int) string {
	if t.mode == ModeBPE {
		raw := make([]int, 0, len(ids))
		for _, id := range ids {
			if local := id - numSpecial; local >= 0 && local < len(t.localToBPE) {
				raw = append(raw, t.localToBPE[local])
			}
		}
		return t.bpe.Decode(raw)
	}

	pieces := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == UnkID {
			pieces = append(pieces, specialTokens[UnkID])
			continue
		}
		if local := id - numSpecial; local >= 0 && local < len(t.vocab) {
			pieces = append(pieces, t.vocab[local])
		}
	}
	return strings.Join(pieces, " ")
}

func (t *Tokenizer) saved() savedTokenizer {
	return savedTokenizer{
		Version:       1,
		Mode:          t.mode,
		Encoding:      t.encodingName,
		MaxLength:     t.maxLength,
		SpecialTokens: specialTokens,
		Vocab:         t.vocab,
		BPETokenIDs:   t.localToBPE,
	}
}

// Fingerprint is a hash of the id mapping. Two tokenizers with the same
// fingerprint give every piece the same id; MaxLength is not part of it.
func (t *Tokenizer) Fingerprint() string {
	saved := t.saved()
	saved.MaxLength = 0
	b, _ := json.Marshal(saved)
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// Save writes tokenizer.json into dir
func (t *Tokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create tokenizer dir: %w", err)
	}
	b, err := json.MarshalIndent(t.saved(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokenizer: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), b, 0o644); err != nil {
		return fmt.Errorf("failed to write tokenizer: %w", err)
	}
	return nil
}

// Load reads a tokenizer saved by Save
func Load(dir string) (*Tokenizer, error) {
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}
	var saved savedTokenizer
	if err := json.Unmarshal(b, &saved); err != nil {
		return nil, fmt.Errorf("failed to decode tokenizer: %w", err)
	}
	if saved.MaxLength < 3 {
		return nil, fmt.Errorf("invalid tokenizer: max_length %d", saved.MaxLength)
	}

	switch saved.Mode {
	case ModeWord:
		return newWordTokenizer(saved.Vocab, saved.MaxLength), nil
	case ModeBPE:
		enc, err := getEncoding(saved.Encoding)
		if err != nil {
			return nil, err
		}
		return newBPETokenizer(enc, saved.Encoding, saved.BPETokenIDs, saved.MaxLength), nil
	}
	return nil, fmt.Errorf("invalid tokenizer: unknown mode %q", saved.Mode)
}

func wordPieces(text string) []string {
	return wordRegex.FindAllString(norm.NFKC.String(strings.ToLower(text)), -1)
}

// topKeys returns up to limit keys seen at least minFreq times, most
// frequent first, ties broken by key order
func topKeys[K int | string](counts map[K]int, minFreq, limit int) []K {
	keys := make([]K, 0, len(counts))
	for k, c := range counts {
		if c >= minFreq {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
