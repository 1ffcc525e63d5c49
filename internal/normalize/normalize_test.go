package normalize

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain kanji", "東京", "東京"},
		{"metropolis suffix", "東京都", "東京"},
		{"old kanji variant", "東亰", "東京"},
		{"prefecture suffix", "大阪府", "大阪"},
		{"historical spelling", "大坂", "大阪"},
		{"variant plus suffix", "横濱市", "横浜"},
		{"ward suffix", "品川区", "品川"},
		{"trailing particle", "品川に", "品川"},
		{"single rune suffix kept", "市", "市"},
		{"short stem keeps suffix", "大町", "大町"},
		{"repeated mountain", "山山", "山"},
		{"repeated river after suffix", "川川町", "川"},
		{"full-width latin", "ＴＯＫＹＯ", "tokyo"},
		{"full-width digits", "第１２区画", "第12区画"},
		{"latin whitespace collapse", "  New   York,  ", "new york"},
		{"katakana middle dot", "ニュー・ヨーク", "ニューヨーク"},
		{"half-width katakana", "ﾄｳｷｮｳ", "トウキョウ"},
		{"cjk with spaces", "東京 都", "東京"},
		{"surrounding brackets", "「京都」", "京都"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%q) returned error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_InvalidInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n", "！？", "・・・"} {
		_, err := Normalize(raw)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidInput", raw, err)
		}
	}
}

func TestNormalize_Equivalence(t *testing.T) {
	groups := [][]string{
		{"東京", "東京都", "東亰", "　東京　", "東京都の"},
		{"大阪", "大阪府", "大坂", "大阪市"},
		{"Kyoto", "KYOTO", "ｋｙｏｔｏ", " kyoto. "},
	}

	for _, group := range groups {
		first, err := Normalize(group[0])
		if err != nil {
			t.Fatalf("Normalize(%q): %v", group[0], err)
		}
		for _, raw := range group[1:] {
			got, err := Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", raw, err)
			}
			if got != first {
				t.Errorf("Normalize(%q) = %q, want %q (same as %q)", raw, got, first, group[0])
			}
		}
	}
}

func TestNew_CustomVariants(t *testing.T) {
	opts := DefaultOptions()
	opts.Variants["とうきょう"] = "東京"
	opts.Variants["トウキョウ"] = "東京"
	n := New(opts)

	for _, raw := range []string{"東京", "東京都", "とうきょう", "ﾄｳｷｮｳ"} {
		got, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		if got != "東京" {
			t.Errorf("Normalize(%q) = %q, want 東京", raw, got)
		}
	}

	// The package default is unaffected by a custom normalizer
	got, _ := Normalize("とうきょう")
	if got != "とうきょう" {
		t.Errorf("default normalizer picked up custom variant: %q", got)
	}
}

func TestNew_NoRules(t *testing.T) {
	n := New(Options{})
	got, err := n.Normalize("大阪府")
	if err != nil {
		t.Fatal(err)
	}
	if got != "大阪府" {
		t.Errorf("expected suffix kept without rules, got %q", got)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := New(DefaultOptions())
		got, _ := a.Normalize("東京都")
		if got != "東京" {
			t.Fatalf("run %d: got %q", i, got)
		}
	}
}
