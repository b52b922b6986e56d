package tui

import (
	"testing"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
)

func TestNewAppSetsTheme(t *testing.T) {
	_ = NewApp()
	assert.Equal(t, Accent, tview.Styles.BorderColor)
	assert.Equal(t, Light, tview.Styles.PrimaryTextColor)
	assert.Equal(t, Gray, tview.Styles.TertiaryTextColor)
}

func TestFrameTitlesRoot(t *testing.T) {
	app := NewApp()
	frame := app.Frame(tview.NewBox(), "RouteGuard")
	assert.Equal(t, " RouteGuard ", frame.GetTitle())
	assert.Equal(t, 1, frame.GetItemCount())
}
