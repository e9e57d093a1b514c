package ui

import (
	"encoding/json"
	"fmt"
	"io"
)

// StatusInfo describes the index and the embedding backend.
type StatusInfo struct {
	Backend      string `json:"backend"`
	Location     string `json:"location"`
	Answers      int    `json:"answers"`
	Entries      int    `json:"entries"`
	Chunks       int    `json:"chunks"`
	LedgerHashes int    `json:"ledger_hashes"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	Dimensions       int    `json:"dimensions"`
	EmbedderStatus   string `json:"embedder_status"` // "ready" or "offline"
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable status block.
func (r *StatusRenderer) Render(info StatusInfo) error {
	rows := []struct {
		label string
		value any
	}{
		{"Backend", info.Backend},
		{"Location", info.Location},
		{"Answers", info.Answers},
		{"Entries", info.Entries},
		{"Chunks", info.Chunks},
		{"Expanded", info.LedgerHashes},
	}

	if _, err := fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status")); err != nil {
		return err
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(r.out, "  %s %v\n", r.styles.Label.Render(fmt.Sprintf("%-10s", row.label+":")), row.value)
	}

	status := r.styles.Success.Render(info.EmbedderStatus)
	if info.EmbedderStatus != "ready" {
		status = r.styles.Warning.Render(info.EmbedderStatus)
	}
	_, _ = fmt.Fprintf(r.out, "\n  %s %s (%s, %d dims) %s\n",
		r.styles.Label.Render(fmt.Sprintf("%-10s", "Embedder:")),
		info.EmbedderProvider, info.EmbedderModel, info.Dimensions, status)
	return nil
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
