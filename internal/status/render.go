package status

import "github.com/charmbracelet/lipgloss"

// Palette holds ANSI-256 codes per tone. Neutral is never colored.
type Palette struct {
	Muted    string
	Emphasis string
	Alert    string
}

// DefaultPalette is tuned for dark terminals.
var DefaultPalette = Palette{
	Muted:    "245",
	Emphasis: "39",
	Alert:    "203",
}

// HighContrastPalette trades subtlety for legibility.
var HighContrastPalette = Palette{
	Muted:    "252",
	Emphasis: "51",
	Alert:    "196",
}

// Renderer turns a Rendering into terminal text.
type Renderer struct {
	color  bool
	styles map[Tone]lipgloss.Style
}

// NewRenderer creates a Renderer. With color false glyphs are emitted plain.
func NewRenderer(p Palette, color bool) *Renderer {
	return &Renderer{
		color: color,
		styles: map[Tone]lipgloss.Style{
			ToneNeutral:  lipgloss.NewStyle(),
			ToneMuted:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
			ToneEmphasis: lipgloss.NewStyle().Foreground(lipgloss.Color(p.Emphasis)).Bold(true),
			ToneAlert:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Alert)).Bold(true),
		},
	}
}

// Glyph renders the indicator alone. Invisible renderings are empty.
func (r *Renderer) Glyph(rend Rendering) string {
	if !rend.Visible {
		return ""
	}
	if !r.color {
		return rend.Glyph
	}
	style, ok := r.styles[rend.Tone]
	if !ok {
		return rend.Glyph
	}
	return style.Render(rend.Glyph)
}

// Line renders the indicator followed by its label.
func (r *Renderer) Line(rend Rendering) string {
	if !rend.Visible {
		return ""
	}
	return r.Glyph(rend) + " " + rend.Label
}
