package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// shortSuffix widens very short questions so that both the embedding and the
// trigram index see some context words.
const shortSuffix = "что это такое объясни анықтама"

// Alias expands an abbreviation or slang key into searchable synonyms.
type Alias struct {
	Key   string
	Extra string
	re    *regexp.Regexp
}

// DefaultAliases are the campus abbreviations students actually type.
var DefaultAliases = NewAliases([][2]string{
	{"dorm", "жатақхана общежитие общага dormitory hostel residence price cost payment fee"},
	{"общежитие", "жатақхана dorm dormitory price cost payment fee"},
	{"общага", "общежитие жатақхана dorm dormitory price cost payment fee"},
	{"fx", "foreign exchange валюта обмен курс rate"},
	{"imo", "international office SDU visa documents"},
	{"gpa", "grade point average балл оценка"},
	{"ssc", "student service center SDU справка"},
	{"spt", "student points transcript SDU"},
})

// NewAliases compiles key/extra pairs, keeping their order.
func NewAliases(pairs [][2]string) []Alias {
	out := make([]Alias, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Alias{Key: p[0], Extra: p[1], re: WordPattern(regexp.QuoteMeta(p[0]))})
	}
	return out
}

// WordPattern compiles a case-insensitive regexp matching any of the given
// alternatives as a whole word. Word boundaries are Unicode-aware, unlike
// RE2's ASCII-only \b, so Cyrillic and Kazakh keys match correctly.
func WordPattern(alternatives ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(alternatives, "|") + `)(?:[^\p{L}\p{N}_]|$)`)
}

// SearchTexts derives the index phrases for one question: the question
// itself, a widened variant for short questions, and one variant per
// matching alias. Results are normalised and deduplicated.
func SearchTexts(question string, aliases []Alias) []string {
	q := Normalize(question)
	if q == "" {
		return nil
	}

	candidates := []string{q}
	lower := strings.ToLower(q)
	if utf8.RuneCountInString(lower) <= 10 || WordCount(lower) <= 2 {
		candidates = append(candidates, q+" "+shortSuffix)
	}
	for _, a := range aliases {
		if a.re.MatchString(lower) {
			candidates = append(candidates, q+" "+a.Extra)
		}
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		c = Normalize(c)
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
