package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

var (
	Accent = tcell.NewRGBColor(20, 184, 166) // #14B8A6
	Dark   = tcell.NewRGBColor(30, 34, 40)
	Gray   = tcell.NewRGBColor(128, 128, 128)
	Light  = tcell.NewRGBColor(200, 200, 200)
)

const SymbolSelected = "▸"

// Tone is the colour and symbol pair used for a state.
type Tone struct {
	Color  tcell.Color
	Symbol string
}

var (
	ToneOK      = Tone{tcell.NewRGBColor(34, 197, 94), "✓"}
	ToneBad     = Tone{tcell.NewRGBColor(239, 68, 68), "✗"}
	ToneWarn    = Tone{tcell.NewRGBColor(234, 179, 8), "⚠"}
	ToneInfo    = Tone{tcell.NewRGBColor(59, 130, 246), "ℹ"}
	ToneNeutral = Tone{Light, "•"}
)

var statusTones = map[string]Tone{
	"succeeded":   ToneOK,
	"recovered":   ToneOK,
	"active":      ToneOK,
	"running":     ToneInfo,
	"rolled_back": ToneWarn,
	"inactive":    ToneWarn,
	"none":        ToneWarn,
	"failed":      ToneBad,
	"unrecovered": ToneBad,
	"abandoned":   ToneBad,
}

// StatusTone maps run statuses, rollback outcomes and unit states to a tone.
func StatusTone(status string) Tone {
	if t, ok := statusTones[status]; ok {
		return t
	}
	return ToneNeutral
}

// Tagged renders text in the tone's colour, prefixed with its symbol, as a
// tview colour-tagged string.
func (t Tone) Tagged(text string) string {
	return fmt.Sprintf("[#%06x]%s %s[white]", t.Color.Hex(), t.Symbol, text)
}
