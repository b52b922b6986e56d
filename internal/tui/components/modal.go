// Package components provides themed tview widgets.
package components

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/routeguard/internal/tui"
)

// Kind selects the colour and symbol of a message modal.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

func (k Kind) tone() tui.Tone {
	switch k {
	case KindSuccess:
		return tui.ToneOK
	case KindWarning:
		return tui.ToneWarn
	case KindError:
		return tui.ToneBad
	default:
		return tui.ToneInfo
	}
}

const navHint = "[yellow]TAB or ←→ to switch, ENTER to select[white]"

var modalCreatedHook func(*tview.Modal)

func newModal(title, text string, color tcell.Color, buttons []string, done func(string)) *tview.Modal {
	modal := tview.NewModal().
		SetText(text).
		AddButtons(buttons).
		SetDoneFunc(func(_ int, label string) { done(label) })
	modal.SetBorder(true).
		SetTitle(" " + title + " ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(color).
		SetBorderColor(color).
		SetBackgroundColor(tcell.ColorBlack)
	if modalCreatedHook != nil {
		modalCreatedHook(modal)
	}
	return modal
}

// Confirm shows a Yes/No modal. onAnswer receives true for Yes; closing the
// modal any other way counts as No.
func Confirm(app *tui.App, title, message string, onAnswer func(bool)) *tview.Modal {
	if !strings.Contains(message, "[yellow]") {
		message += "\n\n" + navHint
	}
	modal := newModal(title, message, tui.ToneWarn.Color, []string{"Yes", "No"}, func(label string) {
		if onAnswer != nil {
			onAnswer(label == "Yes")
		}
	})
	app.SetRoot(modal, true).SetFocus(modal)
	return modal
}

// Message shows a single-button modal; OK returns to returnTo, or stops the
// app when returnTo is nil.
func Message(app *tui.App, kind Kind, title, message string, returnTo tview.Primitive) *tview.Modal {
	t := kind.tone()
	text := t.Symbol + " " + message + "\n\n[yellow]Press ENTER to continue[white]"
	modal := newModal(title, text, t.Color, []string{"OK"}, func(string) {
		if returnTo == nil {
			app.Stop()
			return
		}
		app.SetRoot(returnTo, true).SetFocus(returnTo)
	})
	app.SetRoot(modal, true).SetFocus(modal)
	return modal
}
