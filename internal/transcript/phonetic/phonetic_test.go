package phonetic_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

var vocabulary = []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

func TestMatcher_SplitWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary)

	// The recognizer split "Eldrinax" into two words.
	corrected, conf, matched := m.Match("elder nacks")
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "elder nacks")
	}
	if corrected != "Eldrinax" {
		t.Errorf("Match(%q): corrected=%q, want %q", "elder nacks", corrected, "Eldrinax")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "elder nacks", conf)
	}
}

func TestMatcher_MultiWordTerm(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary)
	corrected, conf, matched := m.Match("tower of wispers")
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "tower of wispers")
	}
	if corrected != "Tower of Whispers" {
		t.Errorf("corrected=%q, want %q", corrected, "Tower of Whispers")
	}
	if conf < 0.85 {
		t.Errorf("confidence=%f, want >= 0.85", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary)
	corrected, conf, matched := m.Match("hello")
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if corrected != "hello" || conf != 0 {
		t.Errorf("Match(%q) = %q, %f; want original and 0", "hello", corrected, conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary)
	corrected, conf, matched := m.Match("GRIMJAW")
	if !matched {
		t.Fatal("uppercase input did not match")
	}
	if corrected != "Grimjaw" {
		t.Errorf("corrected=%q, want vocabulary casing %q", corrected, "Grimjaw")
	}
	if conf < 0.99 {
		t.Errorf("confidence=%f for exact match", conf)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary,
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("elder nacks"); matched {
		t.Fatal("threshold 0.99 should reject near-matches")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	if _, _, matched := phonetic.New(nil).Match("eldrinax"); matched {
		t.Error("empty vocabulary matched")
	}
	if got, _, matched := phonetic.New(vocabulary).Match(""); matched || got != "" {
		t.Errorf("empty phrase: got %q matched=%v", got, matched)
	}
	if n := phonetic.New([]string{"", "  ", "Grimjaw"}).Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestMatcher_Correct(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Grimjaw", "Eldrinax"})
	tests := []struct {
		name  string
		in    string
		want  string
		fixes int
	}{
		{"keeps punctuation", "we met grimjaw, then left", "we met Grimjaw, then left", 1},
		{"joins split word", "i met elder nacks today", "i met Eldrinax today", 1},
		{"already correct", "Grimjaw waved", "Grimjaw waved", 0},
		{"nothing to do", "the weather is nice", "the weather is nice", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fixes := m.Correct(tt.in)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(fixes) != tt.fixes {
				t.Errorf("Correct(%q) made %d corrections, want %d: %+v", tt.in, len(fixes), tt.fixes, fixes)
			}
		})
	}
}

func TestMatcher_CorrectWithoutVocabulary(t *testing.T) {
	t.Parallel()

	in := "  spacing   is   kept "
	got, fixes := phonetic.New(nil).Correct(in)
	if got != in || fixes != nil {
		t.Errorf("Correct = %q, %v; want input unchanged", got, fixes)
	}
}
