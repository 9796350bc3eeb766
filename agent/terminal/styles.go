package terminal

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.Color("#98C379")
	colorRed    = lipgloss.Color("#E06C75")
	colorYellow = lipgloss.Color("#E5C07B")
	colorCyan   = lipgloss.Color("#56B6C2")
)

const (
	systemGlyph    = "⚙️:"
	assistantGlyph = "🤖:"
)

type styles struct {
	welcome   lipgloss.Style
	farewell  lipgloss.Style
	system    lipgloss.Style
	assistant lipgloss.Style
}

// newStyles renders for out, so colors are dropped when out is not a terminal.
func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		welcome:   r.NewStyle().Foreground(colorGreen),
		farewell:  r.NewStyle().Foreground(colorRed),
		system:    r.NewStyle().Foreground(colorYellow),
		assistant: r.NewStyle().Foreground(colorCyan).Bold(true),
	}
}

// printer writes console output. Only the glyphs are styled; message bodies
// are printed as is.
type printer struct {
	out io.Writer
	st  styles
}

func (p printer) system(format string, a ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.st.system.Render(systemGlyph), fmt.Sprintf(format, a...))
}

func (p printer) assistant(text string) {
	fmt.Fprintf(p.out, "%s %s\n", p.st.assistant.Render(assistantGlyph), text)
}
