package mcp

import (
	"fmt"
	"strings"
)

// FormatMatch renders a match result as markdown.
func FormatMatch(out *MatchOutput) string {
	var sb strings.Builder

	if out.Answer != nil {
		fmt.Fprintf(&sb, "## Answer #%d (score: %.2f)\n\n", out.Answer.AnswerID, out.Answer.Score)
		sb.WriteString(out.Answer.SearchText)
		sb.WriteString("\n")
	} else {
		sb.WriteString(out.NotFound)
		sb.WriteString("\n")
	}

	if len(out.Results) == 0 {
		return sb.String()
	}

	fmt.Fprintf(&sb, "\n### %s candidates for %q\n\n", out.Mode, out.Query)
	for _, r := range out.Results {
		fmt.Fprintf(&sb, "%d. **#%d** score: %.3f (vector %.3f, trigram %.3f)",
			r.Rank, r.AnswerID, r.Score, r.Similarity, r.Trigram)
		if r.Language != "" {
			fmt.Fprintf(&sb, " [%s]", r.Language)
		}
		sb.WriteString("\n   ")
		sb.WriteString(truncate(oneLine(r.SearchText), 200))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatBacklog renders paraphrase candidates as markdown.
func FormatBacklog(out *BacklogOutput) string {
	if out.Count == 0 {
		return "Paraphrase backlog is empty."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Paraphrase backlog\n\n%d item", out.Count)
	if out.Count != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")
	for _, it := range out.Items {
		fmt.Fprintf(&sb, "- `%s` #%d [%s] %s\n",
			shortHash(it.BaseHash), it.AnswerID, it.Language, truncate(oneLine(it.SearchText), 120))
	}
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
