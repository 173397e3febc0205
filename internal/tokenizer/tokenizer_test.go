package tokenizer

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

var corpus = []string{
	"Verify your account now",
	"Your account has been suspended, verify now!",
	"Lunch on Friday?",
	"The quarterly report is attached",
	"Click here to verify your password",
}

func wordConfig(maxLength int) Config {
	return Config{Mode: ModeWord, VocabSize: 64, MinFrequency: 1, MaxLength: maxLength}
}

func TestTrainWordVocabulary(t *testing.T) {
	tok, err := Train(corpus, wordConfig(16))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	// "verify" and "your" appear most often
	if tok.vocab[0] != "verify" && tok.vocab[0] != "your" {
		t.Errorf("most frequent piece = %q", tok.vocab[0])
	}
	if tok.VocabSize() != numSpecial+len(tok.vocab) {
		t.Errorf("VocabSize = %d", tok.VocabSize())
	}
}

func TestTrainRespectsLimits(t *testing.T) {
	tok, err := Train(corpus, Config{Mode: ModeWord, VocabSize: numSpecial + 3, MinFrequency: 1, MaxLength: 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(tok.vocab) != 3 {
		t.Errorf("vocab = %v, want 3 entries", tok.vocab)
	}

	tok, err = Train(corpus, Config{Mode: ModeWord, VocabSize: 64, MinFrequency: 3, MaxLength: 8})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range tok.vocab {
		if p != "verify" && p != "your" && p != "account" && p != "now" {
			t.Errorf("piece %q below min frequency kept", p)
		}
	}
}

func TestTrainRejectsBadConfig(t *testing.T) {
	if _, err := Train(corpus, Config{Mode: ModeWord, VocabSize: 64, MaxLength: 2}); err == nil {
		t.Error("expected error for max length 2")
	}
	if _, err := Train(corpus, Config{Mode: ModeWord, VocabSize: 4, MaxLength: 8}); err == nil {
		t.Error("expected error for vocab without room")
	}
	if _, err := Train(corpus, Config{Mode: "sentencepiece", VocabSize: 64, MaxLength: 8}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestEncodeFixedLength(t *testing.T) {
	tok, err := Train(corpus, wordConfig(8))
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{
		"",
		"verify",
		"Your account has been suspended, verify now! Your account has been suspended, verify now!",
	}
	for _, text := range texts {
		enc := tok.Encode(text)
		if len(enc.IDs) != 8 || len(enc.AttentionMask) != 8 {
			t.Fatalf("Encode(%q) length = %d/%d, want 8", text, len(enc.IDs), len(enc.AttentionMask))
		}
		if enc.IDs[0] != ClsID {
			t.Errorf("Encode(%q) does not start with [CLS]", text)
		}
		n := enc.Length()
		if enc.IDs[n-1] != SepID {
			t.Errorf("Encode(%q) last real token = %d, want [SEP]", text, enc.IDs[n-1])
		}
		for i := n; i < len(enc.IDs); i++ {
			if enc.IDs[i] != PadID || enc.AttentionMask[i] != 0 {
				t.Errorf("Encode(%q) position %d not padding", text, i)
			}
		}
	}

	long := tok.Encode(texts[2])
	if long.Length() != 8 {
		t.Errorf("long text uses %d positions, want 8", long.Length())
	}
	empty := tok.Encode("")
	if empty.Length() != 2 {
		t.Errorf("empty text uses %d positions, want 2", empty.Length())
	}
}

func TestUnknownPieces(t *testing.T) {
	tok, err := Train(corpus, wordConfig(8))
	if err != nil {
		t.Fatal(err)
	}
	enc := tok.Encode("zebra verify")
	if enc.IDs[1] != UnkID {
		t.Errorf("unknown word id = %d, want %d", enc.IDs[1], UnkID)
	}
	if got := tok.Decode(enc.IDs); got != "[UNK] verify" {
		t.Errorf("Decode = %q", got)
	}
}

func TestEncodeBatchMatchesEncode(t *testing.T) {
	tok, err := Train(corpus, wordConfig(12))
	if err != nil {
		t.Fatal(err)
	}
	batch, err := tok.EncodeBatch(context.Background(), corpus, 3)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	for i, text := range corpus {
		if !reflect.DeepEqual(batch[i], tok.Encode(text)) {
			t.Errorf("batch[%d] differs from Encode", i)
		}
	}
}

func TestEncodeBatchCancelled(t *testing.T) {
	tok, err := Train(corpus, wordConfig(12))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tok.EncodeBatch(ctx, corpus, 2); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestSaveLoadWord(t *testing.T) {
	tok, err := Train(corpus, wordConfig(10))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := tok.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MaxLength() != 10 || loaded.Mode() != ModeWord {
		t.Errorf("loaded mode=%s max=%d", loaded.Mode(), loaded.MaxLength())
	}
	for _, text := range corpus {
		if !reflect.DeepEqual(tok.Encode(text), loaded.Encode(text)) {
			t.Errorf("encodings differ after reload for %q", text)
		}
	}
}

func TestFingerprint(t *testing.T) {
	tok, err := Train(corpus, wordConfig(10))
	if err != nil {
		t.Fatal(err)
	}
	longer, err := Train(corpus, wordConfig(20))
	if err != nil {
		t.Fatal(err)
	}
	if tok.Fingerprint() != longer.Fingerprint() {
		t.Error("max length changed the fingerprint")
	}

	other, err := Train([]string{"an entirely different corpus of words"}, wordConfig(10))
	if err != nil {
		t.Fatal(err)
	}
	if tok.Fingerprint() == other.Fingerprint() {
		t.Error("different vocabularies share a fingerprint")
	}

	dir := t.TempDir()
	if err := tok.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Fingerprint() != tok.Fingerprint() {
		t.Error("fingerprint changed after reload")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestBPERoundTrip(t *testing.T) {
	tok, err := Train(corpus, Config{Mode: ModeBPE, Encoding: "cl100k_base", VocabSize: 256, MinFrequency: 1, MaxLength: 32})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	text := "Verify your account now"
	enc := tok.Encode(text)
	n := enc.Length()
	got := tok.Decode(enc.IDs[1 : n-1])
	if strings.TrimSpace(got) != text {
		t.Errorf("Decode = %q, want %q", got, text)
	}

	dir := t.TempDir()
	if err := tok.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(enc, loaded.Encode(text)) {
		t.Error("bpe encodings differ after reload")
	}
}
