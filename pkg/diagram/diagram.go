// Package diagram renders the plan of a runbook. Supports Mermaid
// flowchart and ASCII box formats.
package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed runbook.
func Generate(rb *schema.Runbook, format Format) (string, error) {
	if rb == nil {
		return "", fmt.Errorf("nil runbook")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(rb), nil
	case FormatASCII, "":
		return generateASCII(rb), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(rb *schema.Runbook) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := planSteps(rb)
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + safeID(steps[0].id) + "\n")
	for i, s := range steps {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		if i < len(steps)-1 {
			next := safeID(steps[i+1].id)
			if steps[i+1].when != "" {
				fmt.Fprintf(&b, "    %s -->|%q| %s\n", safeID(s.id), "when "+truncate(steps[i+1].when, 30), next)
			} else {
				fmt.Fprintf(&b, "    %s --> %s\n", safeID(s.id), next)
			}
		}
	}
	fmt.Fprintf(&b, "    %s --> DONE([Complete])\n", safeID(steps[len(steps)-1].id))

	for _, s := range steps {
		switch {
		case s.destructive:
			fmt.Fprintf(&b, "    style %s fill:#5a1a1a,stroke:#f44\n", safeID(s.id))
		case s.optional:
			fmt.Fprintf(&b, "    style %s stroke-dasharray: 5 5\n", safeID(s.id))
		}
	}
	return b.String()
}

// --- ASCII ---

func generateASCII(rb *schema.Runbook) string {
	var b strings.Builder

	name := rb.Meta.Name
	if name == "" {
		name = "Runbook"
	}

	steps := planSteps(rb)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	// Uniform box width so every box and connector aligns.
	const indent = 4
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2 // +1 for the left border
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)
	mid := boxWidth / 2

	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		writeASCIIStep(&b, s, indent, boxWidth)
		if i < len(steps)-1 {
			b.WriteString(connPad + "│\n")
		}
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(steps []planStep, name string) int {
	w := 24
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		for _, l := range s.lines() {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s planStep, indent, boxWidth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2
	edge := "─"
	if s.destructive {
		edge = "━"
	}

	b.WriteString(pad + "┌" + strings.Repeat(edge, boxWidth) + "┐\n")
	for _, l := range s.lines() {
		b.WriteString(pad + "│" + l + strings.Repeat(" ", boxWidth-runewidth.StringWidth(l)) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat(edge, mid) + "┬" + strings.Repeat(edge, boxWidth-mid-1) + "┘\n")
}

func actionIcon(kind schema.ActionKind) string {
	switch kind {
	case schema.ActionKube:
		return "☸"
	case schema.ActionHelm:
		return "⎈"
	case schema.ActionExec, schema.ActionShell:
		return "⚡"
	case schema.ActionHTTP:
		return "⇄"
	case schema.ActionPause:
		return "⏸"
	default:
		return "○"
	}
}

// --- plan model ---

type planStep struct {
	ordinal     int
	id          string
	title       string
	kind        schema.ActionKind
	when        string
	optional    bool
	destructive bool
	mandatory   bool
	requires    []string
	produces    []string
}

func planSteps(rb *schema.Runbook) []planStep {
	out := make([]planStep, 0, len(rb.Steps))
	for i, s := range rb.Steps {
		ps := planStep{
			ordinal:     i + 1,
			id:          s.ID,
			title:       s.DisplayName(),
			when:        s.When,
			optional:    s.Optional,
			destructive: s.Destructive,
			mandatory:   s.Mandatory,
			requires:    s.Requires,
		}
		if s.Action != nil {
			ps.kind = s.Action.Kind()
		}
		for k := range s.Produces {
			ps.produces = append(ps.produces, k)
		}
		sort.Strings(ps.produces)
		out = append(out, ps)
	}
	return out
}

// lines is the box content of a step, each with one leading and trailing
// space.
func (s planStep) lines() []string {
	head := fmt.Sprintf(" %d. %s %s ", s.ordinal, actionIcon(s.kind), s.title)
	lines := []string{head}

	var flags []string
	if s.destructive {
		flag := "⚠ destructive"
		if s.mandatory {
			flag += ", mandatory"
		}
		flags = append(flags, flag)
	}
	if s.optional {
		flags = append(flags, "optional")
	}
	if s.when != "" {
		flags = append(flags, "when "+truncate(s.when, 30))
	}
	if len(flags) > 0 {
		lines = append(lines, "    "+strings.Join(flags, "; ")+" ")
	}
	if len(s.requires) > 0 {
		lines = append(lines, "    ← "+strings.Join(s.requires, ", ")+" ")
	}
	if len(s.produces) > 0 {
		lines = append(lines, "    → "+strings.Join(s.produces, ", ")+" ")
	}
	return lines
}

// --- string helpers ---

func nodeDefinition(s planStep) string {
	id := safeID(s.id)
	label := actionIcon(s.kind) + " " + escMermaid(s.title)
	if len(s.produces) > 0 {
		label += "<br/>→ " + strings.Join(s.produces, ", ")
	}
	switch {
	case s.destructive:
		return fmt.Sprintf(`%s{{"⚠ %s"}}`, id, label)
	case s.kind == schema.ActionPause:
		return fmt.Sprintf(`%s[/"%s"/]`, id, label)
	default:
		return fmt.Sprintf(`%s["%s"]`, id, label)
	}
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
