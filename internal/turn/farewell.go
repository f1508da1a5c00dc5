package turn

import (
	"math/rand"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// FarewellConfig lists the concluding phrases that end an always-on
// conversation and the replies the assistant picks from. Phrases may cover
// any supported input language.
type FarewellConfig struct {
	Phrases []string
	Replies []string
}

// Farewell classifies transcripts as concluding phrases.
type Farewell struct {
	phrases []string
	replies []string
}

var defaultPhrases = []string{"bye", "goodbye", "thanks bye", "that is all", "see you"}

func NewFarewell(cfg FarewellConfig) *Farewell {
	f := &Farewell{}
	phrases := cfg.Phrases
	if len(phrases) == 0 {
		phrases = defaultPhrases
	}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			f.phrases = append(f.phrases, n)
		}
	}
	f.replies = append(f.replies, cfg.Replies...)
	if len(f.replies) == 0 {
		f.replies = []string{"Goodbye!"}
	}
	return f
}

// normalize case-folds the text and strips punctuation, leaving
// space-joined word tokens. Unicode case folding keeps the comparison
// locale-agnostic for non-ASCII phrases.
func normalize(s string) string {
	folded := cases.Fold().String(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	return strings.Join(fields, " ")
}

// Match reports whether text is a concluding phrase: an exact match against
// the configured list, or a listed phrase standing alone at the start or
// end of the utterance.
func (f *Farewell) Match(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	for _, p := range f.phrases {
		if norm == p || strings.HasPrefix(norm, p+" ") || strings.HasSuffix(norm, " "+p) {
			return true
		}
	}
	return false
}

// Reply picks one farewell reply at random.
func (f *Farewell) Reply() string {
	return f.replies[rand.Intn(len(f.replies))]
}
