package dataset

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/crypto/blake2b"

	"phishing-detector/internal/models"
)

// ErrTooFewRows is returned when a split would come out empty
var ErrTooFewRows = errors.New("not enough rows to split")

// SplitOptions controls the train/validation/test partition
type SplitOptions struct {
	TestSize float64 // fraction of all rows held out for test
	ValSize  float64 // fraction of the remaining rows held out for validation
	Seed     int64
	Stratify bool
}

// Splits are disjoint partitions of the cleaned rows
type Splits struct {
	Train      []models.Email
	Validation []models.Email
	Test       []models.Email
}

// Total returns the number of rows across all splits
func (s Splits) Total() int {
	return len(s.Train) + len(s.Validation) + len(s.Test)
}

// Split holds out TestSize of the rows for test, then ValSize of the rest for
// validation. Held-out counts are rounded up.
func Split(emails []models.Email, opts SplitOptions) (Splits, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	all := make([]int, len(emails))
	for i := range all {
		all[i] = i
	}

	nTest := heldOut(len(all), opts.TestSize)
	test, rest := take(emails, all, nTest, opts.Stratify, rng)

	nVal := heldOut(len(rest), opts.ValSize)
	val, train := take(emails, rest, nVal, opts.Stratify, rng)

	if len(test) == 0 || len(val) == 0 || len(train) == 0 {
		return Splits{}, fmt.Errorf("%w: %d rows give train=%d validation=%d test=%d",
			ErrTooFewRows, len(emails), len(train), len(val), len(test))
	}

	return Splits{
		Train:      gather(emails, train),
		Validation: gather(emails, val),
		Test:       gather(emails, test),
	}, nil
}

func heldOut(n int, fraction float64) int {
	k := int(math.Ceil(float64(n)*fraction - 1e-9))
	if k > n {
		k = n
	}
	return k
}

// take shuffles idx and moves k of them into the held-out set
func take(emails []models.Email, idx []int, k int, stratify bool, rng *rand.Rand) (held, rest []int) {
	if !stratify {
		perm := shuffled(idx, rng)
		return perm[:k], perm[k:]
	}

	groups := make(map[models.Label][]int)
	for _, i := range idx {
		groups[emails[i].Label] = append(groups[emails[i].Label], i)
	}
	labels := make([]models.Label, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(a, b int) bool { return labels[a] < labels[b] })

	quota := allocate(groups, labels, len(idx), k)
	for _, l := range labels {
		perm := shuffled(groups[l], rng)
		held = append(held, perm[:quota[l]]...)
		rest = append(rest, perm[quota[l]:]...)
	}
	return shuffled(held, rng), shuffled(rest, rng)
}

// allocate splits k across classes proportionally, largest remainder first
func allocate(groups map[models.Label][]int, labels []models.Label, n, k int) map[models.Label]int {
	quota := make(map[models.Label]int, len(labels))
	type remainder struct {
		label models.Label
		frac  float64
	}
	var rems []remainder
	assigned := 0
	for _, l := range labels {
		exact := float64(len(groups[l])) * float64(k) / float64(n)
		quota[l] = int(math.Floor(exact))
		assigned += quota[l]
		rems = append(rems, remainder{label: l, frac: exact - math.Floor(exact)})
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < k && i < len(rems); i++ {
		l := rems[i].label
		if quota[l] < len(groups[l]) {
			quota[l]++
			assigned++
		}
	}
	return quota
}

func shuffled(idx []int, rng *rand.Rand) []int {
	out := append([]int(nil), idx...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func gather(emails []models.Email, idx []int) []models.Email {
	out := make([]models.Email, len(idx))
	for i, j := range idx {
		out[i] = emails[j]
	}
	return out
}

// Fingerprint is a BLAKE2b-256 digest of the cleaned rows in order. Each
// row is written as label, text length, text so no text can forge a row
// boundary.
func Fingerprint(emails []models.Email) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		return ""
	}
	var prefix [16]byte
	for _, e := range emails {
		binary.BigEndian.PutUint64(prefix[:8], uint64(e.Label))
		binary.BigEndian.PutUint64(prefix[8:], uint64(len(e.Text)))
		h.Write(prefix[:])
		io.WriteString(h, e.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}
