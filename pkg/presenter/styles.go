package presenter

import "github.com/charmbracelet/lipgloss"

// Step status glyphs carry meaning without relying on color alone.
const (
	GlyphCurrent = "▸"
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphSkipped = "⏭"
	GlyphWarn    = "!"
	GlyphAction  = "→"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorBlue   = lipgloss.Color("39")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

// styles are bound to one renderer so color detection follows the output
// writer rather than os.Stdout.
type styles struct {
	header      lipgloss.Style
	badge       lipgloss.Style
	destructive lipgloss.Style
	command     lipgloss.Style
	dim         lipgloss.Style
	warn        lipgloss.Style
	passed      lipgloss.Style
	failed      lipgloss.Style
	skipped     lipgloss.Style
	label       lipgloss.Style
	banner      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().
			Bold(true).
			Foreground(colorCyan),
		badge: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(colorYellow).
			Padding(0, 1),
		destructive: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(colorRed).
			Padding(0, 1),
		command: r.NewStyle().
			Foreground(colorYellow).
			Bold(true),
		dim: r.NewStyle().
			Foreground(colorDim),
		warn: r.NewStyle().
			Foreground(colorYellow),
		passed: r.NewStyle().
			Foreground(colorGreen).
			Bold(true),
		failed: r.NewStyle().
			Foreground(colorRed).
			Bold(true),
		skipped: r.NewStyle().
			Faint(true),
		label: r.NewStyle().
			Bold(true).
			Foreground(colorBlue),
		banner: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Bold(true).
			Padding(0, 2),
	}
}
