// Package presenter renders a demo run in the terminal: narration as
// markdown, styled step status lines and a closing summary. It also picks
// the interactive prompter for the operator.
package presenter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/ormasoftchile/demokit/pkg/kernel/engine"
	"github.com/ormasoftchile/demokit/pkg/kernel/facts"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// DefaultWidth wraps narration when the terminal width is unknown.
const DefaultWidth = 80

// Options configure a Terminal presenter.
type Options struct {
	Width int  // narration wrap column; 0 uses DefaultWidth
	Plain bool // no colors, notty markdown
}

// Terminal implements engine.Presenter.
type Terminal struct {
	w     io.Writer
	md    *glamour.TermRenderer
	st    styles
	plain bool
}

var _ engine.Presenter = (*Terminal)(nil)

// New creates a terminal presenter writing to w.
func New(w io.Writer, opts Options) *Terminal {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	r := lipgloss.NewRenderer(w)
	if opts.Plain {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Terminal{
		w:     w,
		md:    newMarkdown(opts.Width, opts.Plain),
		st:    newStyles(r),
		plain: opts.Plain,
	}
}

func (t *Terminal) StepStart(step *schema.Step, ordinal, total int) {
	line := t.st.header.Render(fmt.Sprintf("%s [%d/%d] %s", GlyphCurrent, ordinal, total, step.DisplayName()))
	if step.Destructive {
		line += " " + t.st.destructive.Render("DESTRUCTIVE")
	}
	if step.Optional {
		line += " " + t.st.badge.Render("optional")
	}
	fmt.Fprintf(t.w, "\n%s\n", line)
}

func (t *Terminal) Narrate(markdown string) {
	out := renderMarkdown(t.md, markdown)
	if t.md == nil {
		out = indent(out, "  ")
	}
	fmt.Fprintln(t.w, out)
}

func (t *Terminal) Action(desc string, dryRun bool) {
	if dryRun {
		fmt.Fprintf(t.w, "  %s %s\n", t.st.dim.Render("[dry-run]"), desc)
		return
	}
	fmt.Fprintf(t.w, "  %s %s\n", t.st.command.Render(GlyphAction), desc)
}

func (t *Terminal) Warn(msg string) {
	fmt.Fprintf(t.w, "  %s\n", t.st.warn.Render(GlyphWarn+" "+msg))
}

func (t *Terminal) StepDone(r engine.ExecutionResult) {
	var glyph string
	switch r.Outcome {
	case engine.OutcomeSuccess:
		glyph = t.st.passed.Render(GlyphPassed)
	case engine.OutcomeSkipped:
		glyph = t.st.skipped.Render(GlyphSkipped)
	default:
		glyph = t.st.failed.Render(GlyphFailed)
	}

	var details []string
	if r.Reason != "" {
		details = append(details, r.Reason)
	}
	if r.Attempts > 1 {
		details = append(details, fmt.Sprintf("%d attempts", r.Attempts))
	}
	if r.Duration > 0 {
		details = append(details, r.Duration.Round(time.Millisecond).String())
	}
	line := fmt.Sprintf("  %s %s", glyph, r.Step)
	if len(details) > 0 {
		line += " " + t.st.dim.Render("("+strings.Join(details, ", ")+")")
	}
	fmt.Fprintln(t.w, line)
}

func (t *Terminal) Summary(res *engine.RunResult) {
	var succeeded, skipped, warnings int
	for _, r := range res.Results {
		switch r.Outcome {
		case engine.OutcomeSuccess:
			succeeded++
		case engine.OutcomeSkipped:
			skipped++
		}
		warnings += len(r.Warnings)
	}

	status := t.st.passed.Render(string(res.Status))
	if res.Status != engine.StatusComplete {
		status = t.st.failed.Render(string(res.Status))
	}
	body := fmt.Sprintf("%s in %s\n%d succeeded, %d skipped, %d warnings",
		status, res.Duration.Round(time.Millisecond), succeeded, skipped, warnings)
	fmt.Fprintf(t.w, "\n%s\n", t.st.banner.Render(body))

	if len(res.Facts) > 0 {
		fmt.Fprintln(t.w, t.st.label.Render("Facts"))
		fmt.Fprint(t.w, t.factTable(res.Facts))
	}
	if res.Error != nil {
		fmt.Fprintf(t.w, "%s\n", t.st.failed.Render(res.Error.Error()))
	}
}

func (t *Terminal) factTable(fs []facts.Fact) string {
	sorted := make([]facts.Fact, len(fs))
	copy(sorted, fs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	width := 0
	for _, f := range sorted {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	var b strings.Builder
	for _, f := range sorted {
		origin := string(f.Source)
		if f.Step != "" {
			origin += " by " + f.Step
		}
		fmt.Fprintf(&b, "  %-*s  %s  %s\n", width, f.Key, f.Value, t.st.dim.Render("("+origin+")"))
	}
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
