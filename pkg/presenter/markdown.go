package presenter

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// newMarkdown builds a glamour renderer. Plain output uses the notty style
// so narration stays readable in logs and pipes.
func newMarkdown(width int, plain bool) *glamour.TermRenderer {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if plain {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown converts markdown to styled terminal output, falling back
// to the raw input when rendering fails.
func renderMarkdown(r *glamour.TermRenderer, md string) string {
	if r == nil || strings.TrimSpace(md) == "" {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
