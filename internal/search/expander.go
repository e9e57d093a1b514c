package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"

	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// DefaultFuzzyThreshold is the minimum similarity ratio for a typo to be
// mapped onto a fuzzy lexicon term.
const DefaultFuzzyThreshold = 0.86

// minFuzzyRunes skips short tokens, which match too much.
const minFuzzyRunes = 4

// TermRule appends canonical index terms when its pattern matches.
type TermRule struct {
	Pattern   *regexp.Regexp
	Canonical []string
}

// DefaultTermRules map the spellings students type to the terms the index
// uses for the same thing.
var DefaultTermRules = []TermRule{
	{textnorm.WordPattern(`oldmy\.sdu\.edu\.kz`), []string{"mysdu.edu.kz", "mysdu", "portal"}},
	{textnorm.WordPattern(`mysdu`, `my\s*sdu`, `мойсду`, `майсду`, `мйсду`), []string{"mysdu", "portal"}},
	{textnorm.WordPattern(`портал`, `личн(?:ый|ом)\s*кабинет`, `кабинет`), []string{"portal", "mysdu"}},
	{textnorm.WordPattern(`moodle`, `мудл`, `мудле`, `модл`, `мудлe`), []string{"moodle"}},
	{textnorm.WordPattern(`retake`, `пересдач(?:а|у|и|е)`, `ретейк`, `перездача`), []string{"retake"}},
	{textnorm.WordPattern(`transcript`, `транскрипт`, `выписк(?:а|у)\s*оценок`), []string{"transcript"}},
	{textnorm.WordPattern(`spt`, `student\s*points`, `студент\s*поинтс`), []string{"SPT"}},
	{textnorm.WordPattern(`gpa`, `гпа`), []string{"GPA"}},
	{textnorm.WordPattern(`fx`, `фх`), []string{"FX"}},
}

// DefaultFuzzyLexicon lists terms recovered from misspellings.
var DefaultFuzzyLexicon = []string{"moodle", "retake", "transcript", "mysdu", "portal", "syllabus"}

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9.\-]+|[а-яА-ЯёЁәөұүқғңһі]+`)

// Variants is the outcome of one expansion. Augmented equals Original when
// nothing was added.
type Variants struct {
	Original  string
	Augmented string
	Added     []string
}

// TermExpander appends canonical index terms to a query so that slang,
// transliterations and typos still share trigrams with the indexed phrases.
type TermExpander struct {
	rules     []TermRule
	lexicon   []string
	threshold float64
}

// ExpanderOption configures a TermExpander.
type ExpanderOption func(*TermExpander)

// WithTermRules replaces the rule table.
func WithTermRules(rules []TermRule) ExpanderOption {
	return func(e *TermExpander) { e.rules = rules }
}

// WithFuzzyLexicon replaces the typo lexicon.
func WithFuzzyLexicon(terms []string) ExpanderOption {
	return func(e *TermExpander) { e.lexicon = terms }
}

// WithFuzzyThreshold sets the typo similarity threshold.
func WithFuzzyThreshold(t float64) ExpanderOption {
	return func(e *TermExpander) { e.threshold = t }
}

// NewTermExpander creates an expander with the default campus vocabulary.
func NewTermExpander(opts ...ExpanderOption) *TermExpander {
	e := &TermExpander{
		rules:     DefaultTermRules,
		lexicon:   DefaultFuzzyLexicon,
		threshold: DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand normalises q and appends the canonical terms it implies.
//
// Terms come from rule matches first, then from fuzzy matches of each
// token against the lexicon. A term is added at most once
// (case-insensitively) and never when the query already contains it.
func (e *TermExpander) Expand(q string) Variants {
	q0 := textnorm.Normalize(norm.NFKC.String(q))
	lower := strings.ToLower(q0)

	var proposed []string
	for _, r := range e.rules {
		if r.Pattern.MatchString(lower) {
			proposed = append(proposed, r.Canonical...)
		}
	}
	for _, tok := range tokenRe.FindAllString(q0, -1) {
		tl := strings.ToLower(tok)
		if utf8.RuneCountInString(tl) < minFuzzyRunes {
			continue
		}
		for _, term := range e.lexicon {
			if SimilarityRatio(tl, term) >= e.threshold {
				proposed = append(proposed, term)
			}
		}
	}

	var added []string
	seen := make(map[string]struct{}, len(proposed))
	for _, term := range proposed {
		tl := strings.ToLower(term)
		if _, ok := seen[tl]; ok {
			continue
		}
		seen[tl] = struct{}{}
		if !strings.Contains(lower, tl) {
			added = append(added, term)
		}
	}

	if len(added) == 0 {
		return Variants{Original: q0, Augmented: q0}
	}
	return Variants{
		Original:  q0,
		Augmented: q0 + " " + strings.Join(added, " "),
		Added:     added,
	}
}

// Candidates lists the distinct query texts worth trying: the original and,
// when it differs, the augmented form.
func (e *TermExpander) Candidates(q string) []string {
	v := e.Expand(q)
	if v.Augmented == v.Original {
		return []string{v.Original}
	}
	return []string{v.Original, v.Augmented}
}

// SimilarityRatio is the difflib sequence-matcher ratio of a and b, compared
// case-insensitively rune by rune.
func SimilarityRatio(a, b string) float64 {
	return difflib.NewMatcher(runesOf(a), runesOf(b)).Ratio()
}

func runesOf(s string) []string {
	rs := []rune(strings.ToLower(s))
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
