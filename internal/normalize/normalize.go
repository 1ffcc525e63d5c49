// Package normalize folds raw place text into the lookup key that defines
// which mentions refer to the same master place.
//
// Changing any rule here changes the equivalence classes of existing keys;
// stored masters must be reconciled afterwards.
package normalize

import (
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// ErrInvalidInput is returned for empty input or input that folds to nothing
var ErrInvalidInput = errors.New("normalize: empty place text")

// Options controls the folding rules applied after width/script normalization
type Options struct {
	// Variants maps alternate spellings to their canonical form
	// (substring replacement, longest match first)
	Variants map[string]string

	// Particles are trailing grammatical particles stripped once
	Particles []rune

	// Suffixes are trailing administrative suffixes stripped once
	Suffixes []rune

	// Collapsible runes are reduced to one when repeated
	Collapsible []rune

	// MinStem is the minimum rune count left after stripping a particle or suffix
	MinStem int
}

// DefaultOptions returns the folding rules used for Japanese place names
func DefaultOptions() Options {
	return Options{
		Variants: map[string]string{
			"東京都": "東京",
			"東亰":  "東京",
			"大坂":  "大阪",
			"横濱":  "横浜",
		},
		Particles:   []rune{'の', 'に', 'へ', 'で', 'を'},
		Suffixes:    []rune{'県', '府', '市', '区', '町', '村'},
		Collapsible: []rune{'山', '川', '島'},
		MinStem:     2,
	}
}

// Normalizer is a configured, immutable folding function. It is safe for concurrent use.
type Normalizer struct {
	variants    *strings.Replacer
	particles   map[rune]bool
	suffixes    map[rune]bool
	collapsible map[rune]bool
	minStem     int
}

// New builds a normalizer from opts
func New(opts Options) *Normalizer {
	n := &Normalizer{
		particles:   runeSet(opts.Particles),
		suffixes:    runeSet(opts.Suffixes),
		collapsible: runeSet(opts.Collapsible),
		minStem:     opts.MinStem,
	}
	if n.minStem <= 0 {
		n.minStem = 1
	}

	if len(opts.Variants) > 0 {
		// Sorted so overlapping variants resolve the same way on every run
		olds := make([]string, 0, len(opts.Variants))
		for old := range opts.Variants {
			olds = append(olds, old)
		}
		sort.Slice(olds, func(i, j int) bool {
			li, lj := utf8.RuneCountInString(olds[i]), utf8.RuneCountInString(olds[j])
			if li != lj {
				return li > lj
			}
			return olds[i] < olds[j]
		})
		pairs := make([]string, 0, len(olds)*2)
		for _, old := range olds {
			pairs = append(pairs, fold(old), fold(opts.Variants[old]))
		}
		n.variants = strings.NewReplacer(pairs...)
	}

	return n
}

var defaultNormalizer = New(DefaultOptions())

// Default returns the normalizer built from DefaultOptions
func Default() *Normalizer {
	return defaultNormalizer
}

// Normalize folds raw with the default rules
func Normalize(raw string) (string, error) {
	return defaultNormalizer.Normalize(raw)
}

// Normalize maps raw text to its lookup key.
// Empty, whitespace-only and symbol-only input fails with ErrInvalidInput.
func (n *Normalizer) Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidInput
	}

	key := fold(raw)
	if n.variants != nil {
		key = n.variants.Replace(key)
	}
	key = n.stripTrailing(key, n.particles)
	key = n.stripTrailing(key, n.suffixes)
	key = n.collapse(key)

	if key == "" {
		return "", ErrInvalidInput
	}
	return key, nil
}

// fold applies width/compatibility normalization, lowercasing and separator cleanup.
// Separators are dropped between CJK runes and collapsed to one space elsewhere.
func fold(s string) string {
	folded, _, err := transform.String(transform.Chain(width.Fold, norm.NFKC), s)
	if err != nil {
		folded = norm.NFKC.String(s)
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	var last rune
	pendingSep := false
	for _, r := range folded {
		if isSeparator(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep && !isCJK(last) && !isCJK(r) {
			b.WriteByte(' ')
		}
		pendingSep = false
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

func (n *Normalizer) stripTrailing(s string, set map[rune]bool) string {
	if len(set) == 0 {
		return s
	}
	r, size := utf8.DecodeLastRuneInString(s)
	if !set[r] {
		return s
	}
	stem := s[:len(s)-size]
	if utf8.RuneCountInString(stem) < n.minStem {
		return s
	}
	return stem
}

func (n *Normalizer) collapse(s string) string {
	if len(n.collapsible) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		if r == prev && n.collapsible[r] {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isSeparator(r rune) bool {
	// The long vowel mark is punctuation-like in Unicode tables but part of katakana words
	if r == 'ー' || r == '々' {
		return false
	}
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) || r == 'ー' || r == '々'
}

func runeSet(rs []rune) map[rune]bool {
	set := make(map[rune]bool, len(rs))
	for _, r := range rs {
		set[r] = true
	}
	return set
}
