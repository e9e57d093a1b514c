package backlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/llm"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
)

// DefaultPerItem is how many variants are requested per base phrase.
const DefaultPerItem = 12

const paraphraseSystem = "Return ONLY a valid JSON array of strings. No extra text."

// Paraphraser generates alternative phrasings of a question.
type Paraphraser interface {
	Paraphrase(ctx context.Context, base, lang string, n int) ([]string, error)
}

// LLMParaphraser asks a chat model for paraphrases in the base phrase's
// language.
type LLMParaphraser struct {
	llm llm.Completer
}

// NewLLMParaphraser creates a paraphraser over c.
func NewLLMParaphraser(c llm.Completer) *LLMParaphraser {
	return &LLMParaphraser{llm: c}
}

// Paraphrase implements Paraphraser. A reply that is not a JSON array of
// strings is an ERR_303_LLM_FAILED error.
func (p *LLMParaphraser) Paraphrase(ctx context.Context, base, lang string, n int) ([]string, error) {
	base = textnorm.StripBullet(base)
	if base == "" {
		return nil, nil
	}
	reply, err := p.llm.Complete(ctx, paraphraseSystem, paraphrasePrompt(base, lang, n))
	if err != nil {
		return nil, err
	}
	return ParseVariants(reply)
}

func paraphrasePrompt(base, lang string, n int) string {
	switch lang {
	case "kk":
		return fmt.Sprintf("Төмендегі сұраққа %d түрлі қазақша нұсқа жаса.\n"+
			"Тек JSON массив (string[]) қайтар. Басқа мәтін жазба.\n"+
			"Сұрақ: %s", n, base)
	case "ru":
		return fmt.Sprintf("Сделай %d разных русских перефраз вопроса.\n"+
			"Верни ТОЛЬКО JSON массив строк. Без нумерации, без текста.\n"+
			"Вопрос: %s", n, base)
	default:
		return fmt.Sprintf("Create %d different English paraphrases of the question.\n"+
			"Return ONLY a JSON array of strings.\n"+
			"Question: %s", n, base)
	}
}

// ParseVariants decodes a JSON array reply. Non-string elements are
// dropped, strings are normalised with list bullets removed, and
// duplicates are removed case-insensitively keeping the first.
func ParseVariants(reply string) ([]string, error) {
	var raw []any
	if err := json.Unmarshal([]byte(llm.StripCodeFence(reply)), &raw); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed, "paraphrase reply is not a JSON array", err).
			WithDetail("reply", textnorm.Truncate(reply, 200))
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = textnorm.StripBullet(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
