// Package tui holds the tview application shell and theme shared by the
// interactive screens.
package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App is a themed tview.Application that stops with the abort context.
type App struct {
	*tview.Application
	stopHook func()
}

// NewApp creates an App and applies the RouteGuard theme.
func NewApp() *App {
	applyTheme()
	app := &App{Application: tview.NewApplication()}
	app.EnableMouse(true)
	return app
}

func applyTheme() {
	s := &tview.Styles
	s.PrimitiveBackgroundColor = tcell.ColorBlack
	s.ContrastBackgroundColor = Dark
	s.MoreContrastBackgroundColor = tcell.ColorDarkSlateGray
	s.BorderColor, s.TitleColor, s.GraphicsColor = Accent, Accent, Accent
	s.PrimaryTextColor = Light
	s.SecondaryTextColor = tcell.ColorLightGray
	s.TertiaryTextColor = Gray
	s.InverseTextColor = tcell.ColorBlack
}

// Run runs the event loop until Stop is called or the abort context is
// cancelled. With the abort context already cancelled it returns its error
// without drawing.
func (a *App) Run() error {
	if ctx := getAbortContext(); ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	release := watchAbort(a)
	defer release()
	return a.Application.Run()
}

// Stop ends the event loop.
func (a *App) Stop() {
	switch {
	case a == nil:
	case a.stopHook != nil:
		a.stopHook()
	case a.Application != nil:
		a.Application.Stop()
	}
}

// Frame wraps root in a bordered, titled flex and makes it the root.
func (a *App) Frame(root tview.Primitive, title string) *tview.Flex {
	frame := tview.NewFlex().SetDirection(tview.FlexRow).AddItem(root, 0, 1, true)
	frame.SetBorder(true).
		SetTitle(" " + title + " ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(Accent).
		SetBorderColor(Accent).
		SetBackgroundColor(tcell.ColorBlack)
	a.SetRoot(frame, true)
	return frame
}
