// Package wizard implements the --wizard menu: it shows the host state,
// recommends a verb and returns the operator's choice.
package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/routeguard/internal/tui"
	"github.com/tis24dev/routeguard/internal/tui/components"
)

// Action is a verb the wizard can hand back to the dispatcher.
type Action string

const (
	ActionNone     Action = ""
	ActionInstall  Action = "install"
	ActionUpgrade  Action = "upgrade"
	ActionRestore  Action = "restore"
	ActionRollback Action = "rollback"
	ActionStatus   Action = "status"
	ActionTest     Action = "test"
	ActionDiagnose Action = "diagnose"
)

// Destructive reports whether a needs confirmation before it runs.
func (a Action) Destructive() bool {
	switch a {
	case ActionInstall, ActionUpgrade, ActionRestore, ActionRollback:
		return true
	}
	return false
}

// HostState is what the menu knows about the host when it opens.
type HostState struct {
	SafeModeActive bool
	ChainActive    int
	ChainTotal     int
	HasSnapshot    bool
	// Interrupted is set when the journal holds a run still marked running.
	Interrupted bool
}

// Recommend picks the verb that fits state.
func Recommend(s HostState) Action {
	switch {
	case s.Interrupted && s.HasSnapshot:
		return ActionRollback
	case s.ChainTotal > 0 && s.ChainActive == s.ChainTotal:
		return ActionStatus
	case s.ChainActive > 0:
		// partially up: put the host back before trying again
		if s.HasSnapshot {
			return ActionRollback
		}
		return ActionDiagnose
	case s.SafeModeActive:
		return ActionUpgrade
	default:
		return ActionInstall
	}
}

// Choice is one menu entry.
type Choice struct {
	Action      Action
	Label       string
	Description string
	Recommended bool
}

var menu = []Choice{
	{Action: ActionInstall, Label: "Install", Description: "Fresh install of the routing, watchdog and web services"},
	{Action: ActionUpgrade, Label: "Upgrade", Description: "Replace safe mode with the full service chain"},
	{Action: ActionStatus, Label: "Status", Description: "Services, routes, last run and snapshots"},
	{Action: ActionTest, Label: "Test connectivity", Description: "Probe the target and every WAN"},
	{Action: ActionDiagnose, Label: "Diagnose", Description: "Check commands, directories, configuration and units"},
	{Action: ActionRollback, Label: "Rollback", Description: "Stop the chain and return to the latest snapshot"},
	{Action: ActionRestore, Label: "Restore snapshot", Description: "Reapply the latest snapshot without stopping services"},
}

// Choices returns the menu for state with the recommendation marked and
// moved to the top. Snapshot-based verbs are dropped when there is no
// snapshot.
func Choices(s HostState) []Choice {
	rec := Recommend(s)
	out := make([]Choice, 0, len(menu))
	for _, c := range menu {
		if !s.HasSnapshot && (c.Action == ActionRollback || c.Action == ActionRestore) {
			continue
		}
		if c.Action == rec {
			c.Recommended = true
			out = append([]Choice{c}, out...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Summary is the one-paragraph description of state shown above the menu.
func Summary(s HostState) string {
	var b strings.Builder
	chain := "inactive"
	if s.ChainTotal > 0 && s.ChainActive == s.ChainTotal {
		chain = "active"
	}
	fmt.Fprintf(&b, "Services: %s", tui.StatusTone(chain).Tagged(fmt.Sprintf("%d/%d active", s.ChainActive, s.ChainTotal)))
	if s.SafeModeActive {
		b.WriteString("   Safe mode: " + tui.StatusTone("running").Tagged("running"))
	} else {
		b.WriteString("   Safe mode: stopped")
	}
	if s.HasSnapshot {
		b.WriteString("   Snapshot: available")
	} else {
		b.WriteString("   Snapshot: " + tui.StatusTone("none").Tagged("none"))
	}
	if s.Interrupted {
		b.WriteString("\n" + tui.ToneBad.Tagged("A previous run was interrupted; rollback is recommended."))
	}
	return b.String()
}

// Result is what the wizard returns.
type Result struct {
	Action Action
	// Confirmed is set when a destructive action was confirmed in the TUI.
	Confirmed bool
}

var (
	runApp  = func(app *tui.App) error { return app.Run() }
	confirm = components.Confirm
	notify  = components.Message
)

// Run shows the menu and blocks until the operator picks an action or quits.
func Run(ctx context.Context, state HostState, version string) (Result, error) {
	tui.SetAbortContext(ctx)
	app := tui.NewApp()
	var result Result
	build(app, state, version, func(r Result) { result = r })
	if err := runApp(app); err != nil {
		return Result{}, fmt.Errorf("wizard: %w", err)
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	return result, nil
}

// build lays out the menu and wires selection. done is called at most once
// before the app stops.
func build(app *tui.App, state HostState, version string, done func(Result)) *tview.List {
	finish := func(r Result) {
		done(r)
		app.Stop()
	}

	header := tview.NewTextView().
		SetDynamicColors(true).
		SetText(Summary(state)).
		SetTextColor(tui.Light)

	list := tview.NewList().
		SetHighlightFullLine(true).
		SetSelectedBackgroundColor(tui.Accent).
		SetSecondaryTextColor(tui.Gray)

	var frame *tview.Flex
	for _, c := range Choices(state) {
		choice := c
		label := choice.Label
		if choice.Recommended {
			label = tui.SymbolSelected + " " + label + " (recommended)"
		}
		list.AddItem(label, choice.Description, 0, func() {
			if state.Interrupted && state.HasSnapshot && (choice.Action == ActionInstall || choice.Action == ActionUpgrade) {
				notify(app, components.KindWarning, choice.Label,
					"A previous run was interrupted and left the host half changed.\nRoll back to the snapshot first.", frame)
				return
			}
			if !choice.Action.Destructive() {
				finish(Result{Action: choice.Action})
				return
			}
			confirm(app, choice.Label, confirmText(choice.Action), func(yes bool) {
				if yes {
					finish(Result{Action: choice.Action, Confirmed: true})
					return
				}
				app.SetRoot(frame, true).SetFocus(list)
			})
		})
	}
	list.AddItem("Quit", "Leave without changes", 'q', func() { finish(Result{}) })

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(fmt.Sprintf("[yellow]↑↓ move, ENTER select, q quit[white]   routeguard %s", version))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(list, 0, 1, true).
		AddItem(footer, 1, 0, false)
	frame = app.Frame(layout, "RouteGuard")
	app.SetFocus(list)

	list.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape {
			finish(Result{})
			return nil
		}
		return ev
	})
	return list
}

func confirmText(a Action) string {
	switch a {
	case ActionInstall:
		return "A snapshot is taken, packages installed and the service chain started.\nAny failed connectivity check rolls the host back.\n\nProceed?"
	case ActionUpgrade:
		return "Safe mode is stopped and replaced by the service chain.\nAny failed connectivity check rolls the host back to safe mode.\n\nProceed?"
	case ActionRollback:
		return "Every managed service is stopped and disabled and the latest snapshot reapplied.\n\nProceed?"
	default:
		return "The latest snapshot is reapplied as-is.\n\nProceed?"
	}
}
