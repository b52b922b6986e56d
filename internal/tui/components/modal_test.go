package components

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"

	"github.com/tis24dev/routeguard/internal/tui"
)

func modalText(modal *tview.Modal) string {
	return reflect.ValueOf(modal).Elem().FieldByName("text").String()
}

func modalDone(modal *tview.Modal) func(int, string) {
	field := reflect.ValueOf(modal).Elem().FieldByName("done")
	return *(*func(int, string))(unsafe.Pointer(field.UnsafeAddr()))
}

func TestConfirmAddsNavigationHint(t *testing.T) {
	app := tui.NewApp()
	modal := Confirm(app, "Upgrade", "Stop safe mode?", nil)
	assert.Contains(t, modalText(modal), "TAB or")

	modal = Confirm(app, "Upgrade", "[yellow]custom", nil)
	assert.NotContains(t, modalText(modal), "TAB or")
}

func TestConfirmReportsAnswer(t *testing.T) {
	app := tui.NewApp()
	var answers []bool
	modal := Confirm(app, "Install", "Proceed?", func(yes bool) { answers = append(answers, yes) })
	done := modalDone(modal)
	done(0, "Yes")
	done(1, "No")
	done(-1, "")
	assert.Equal(t, []bool{true, false, false}, answers)
}

func TestMessageReturnsToPreviousScreen(t *testing.T) {
	app := tui.NewApp()
	var captured *tview.Modal
	modalCreatedHook = func(m *tview.Modal) { captured = m }
	t.Cleanup(func() { modalCreatedHook = nil })

	menu := tview.NewList()
	modal := Message(app, KindError, "Status", "journal unreadable", menu)
	assert.Same(t, modal, captured)
	assert.Contains(t, modalText(modal), tui.ToneBad.Symbol+" journal unreadable")

	modalDone(modal)(0, "OK")
	assert.Equal(t, menu, app.GetFocus())
}
