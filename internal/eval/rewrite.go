package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Aman-CERP/qamatch/internal/llm"
)

// RewritePolicy decides which questions are rewritten before the
// hybrid_rewrite mode runs.
type RewritePolicy string

const (
	RewriteAlways       RewritePolicy = "always"
	RewriteFollowUpOnly RewritePolicy = "followup_only"
	RewriteNever        RewritePolicy = "never"
)

// ParseRewritePolicy validates a policy name. Empty means followup_only.
func ParseRewritePolicy(s string) (RewritePolicy, error) {
	switch p := RewritePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RewriteFollowUpOnly, nil
	case RewriteAlways, RewriteFollowUpOnly, RewriteNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown rewrite policy %q (want always, followup_only or never)", s)
	}
}

// followUpHints mark questions that lean on earlier conversation.
var followUpHints = []string{
	"они", "это", "там", "про них", "подробнее", "а что", "а как", "а где", "а сколько", "нет про",
	"it", "they", "there", "more", "tell me more", "what about", "about it", "about them",
	"ол", "олар", "сол", "толығырақ", "тағы",
}

const followUpMaxWords = 6

// IsFollowUp reports whether q looks like a follow-up: at most six words,
// or containing a follow-up hint anywhere.
func IsFollowUp(q string) bool {
	t := strings.ToLower(q)
	if len(strings.Fields(t)) <= followUpMaxWords {
		return true
	}
	for _, h := range followUpHints {
		if strings.Contains(t, h) {
			return true
		}
	}
	return false
}

// Applies reports whether the policy rewrites q.
func (p RewritePolicy) Applies(q string) bool {
	switch p {
	case RewriteAlways:
		return true
	case RewriteFollowUpOnly:
		return IsFollowUp(q)
	default:
		return false
	}
}

const rewriteInstructions = "You are a query rewriter for an information retrieval system.\n" +
	"Rewrite the user query to improve retrieval.\n" +
	"Rules:\n" +
	"- DO NOT answer the question.\n" +
	"- DO NOT add any new facts.\n" +
	"- Preserve the original meaning.\n" +
	"- Keep the same language as the input.\n" +
	"- Output ONLY the rewritten query text (no quotes, no extra words).\n"

// Rewriter rewrites questions with a chat model. Rewrites are cached per
// language and question for the lifetime of the Rewriter.
type Rewriter struct {
	llm   llm.Completer
	mu    sync.Mutex
	cache map[string]string
}

// NewRewriter creates a rewriter over c.
func NewRewriter(c llm.Completer) *Rewriter {
	return &Rewriter{llm: c, cache: make(map[string]string)}
}

// Rewrite returns the rewritten question, or the question itself when the
// model replies with nothing.
func (r *Rewriter) Rewrite(ctx context.Context, question, lang string) (string, error) {
	key := lang + "::" + question
	r.mu.Lock()
	if out, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	prompt := fmt.Sprintf("Language: %s\nUser query:\n%s\n", languageHint(lang), question)
	reply, err := r.llm.Complete(ctx, rewriteInstructions, prompt)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(reply)
	if out == "" {
		out = question
	}

	r.mu.Lock()
	r.cache[key] = out
	r.mu.Unlock()
	return out, nil
}

func languageHint(lang string) string {
	switch lang {
	case "ru":
		return "Russian"
	case "kk":
		return "Kazakh"
	default:
		return "English"
	}
}
