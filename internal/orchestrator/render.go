package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/routeguard/internal/types"
)

var titleCaser = cases.Title(language.English)

var (
	styleHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFail    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes reports, styled when color is set.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) heading(text string) {
	fmt.Fprintln(p.w, p.style(styleHeading, text))
}

// label turns "rolled_back" into "Rolled Back".
func label(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func (p *Printer) state(ok bool, yes, no string) string {
	if ok {
		return p.style(styleOK, yes)
	}
	return p.style(styleDim, no)
}

func (p *Printer) runStatus(status string, outcome string) string {
	text := label(status)
	if outcome != "" {
		text += " (" + label(outcome) + ")"
	}
	switch {
	case status == string(types.RunSucceeded):
		return p.style(styleOK, text)
	case outcome == string(types.OutcomeRecovered):
		return p.style(styleWarn, text)
	default:
		return p.style(styleFail, text)
	}
}

// Status prints the --status report.
func (p *Printer) Status(r *StatusReport) {
	p.heading("Services")
	for _, u := range append(append([]UnitStatus(nil), r.Services...), r.SafeMode) {
		if u.Name == "" {
			continue
		}
		if u.Err != nil {
			fmt.Fprintf(p.w, "  %-22s %s\n", u.Name, p.style(styleFail, u.Err.Error()))
			continue
		}
		fmt.Fprintf(p.w, "  %-22s %-10s %s\n", u.Name, p.state(u.Active, "active", "inactive"), p.state(u.Enabled, "enabled", "disabled"))
	}

	p.heading("Network")
	for _, iface := range r.Interfaces {
		fmt.Fprintf(p.w, "  %-10s %-8s %s\n", iface.Name, iface.State, strings.Join(iface.Addresses, " "))
	}
	if len(r.DefaultRoutes) == 0 {
		fmt.Fprintf(p.w, "  %s\n", p.style(styleFail, "no default route"))
	}
	for _, route := range r.DefaultRoutes {
		fmt.Fprintf(p.w, "  %s\n", route)
	}

	p.heading("Last run")
	if r.LastRun == nil {
		fmt.Fprintf(p.w, "  %s\n", p.style(styleDim, "none recorded"))
	} else {
		run := r.LastRun
		fmt.Fprintf(p.w, "  %s %s  %s\n", run.Verb, run.StartedAt.Local().Format(time.DateTime), p.runStatus(run.Status, run.Outcome))
		if run.FailedName != "" {
			fmt.Fprintf(p.w, "  failed at: %s\n", run.FailedName)
		}
		for _, s := range r.LastRunSteps {
			mark := p.style(styleOK, "ok")
			if !s.OK {
				mark = p.style(styleFail, "FAIL")
			}
			fmt.Fprintf(p.w, "    %2d. %-24s %s\n", s.Index+1, s.Name, mark)
		}
	}
	for _, run := range r.Interrupted {
		fmt.Fprintf(p.w, "  %s\n", p.style(styleFail, fmt.Sprintf("Interrupted %s run %s (started %s): run `routeguard --rollback`", run.Verb, shortID(run.ID), run.StartedAt.Local().Format(time.DateTime))))
	}

	p.heading("Snapshots")
	if len(r.Snapshots) == 0 {
		fmt.Fprintf(p.w, "  %s\n", p.style(styleDim, "none"))
	}
	for _, s := range r.Snapshots {
		fmt.Fprintf(p.w, "  %s  %s  %d service(s) active\n", s.Name(), s.CreatedAt.Local().Format(time.DateTime), len(s.ActiveServices()))
	}

	for _, problem := range r.Problems {
		fmt.Fprintf(p.w, "%s\n", p.style(styleWarn, "! "+problem))
	}
}

// Test prints the --test report.
func (p *Printer) Test(r *TestReport) {
	p.heading("Connectivity")
	fmt.Fprintf(p.w, "  %-16s %s (%d attempt(s))\n", r.Target, p.state(r.Reachable, "reachable", "UNREACHABLE"), len(r.Attempts))
	for _, wan := range r.WANs {
		detail := wan.Reason
		if wan.Reachable {
			detail = wan.Latency.String()
		}
		fmt.Fprintf(p.w, "  %-16s via %-8s %s %s\n", wan.Target, wan.Interface, p.state(wan.Reachable, "reachable", "unreachable"), p.style(styleDim, detail))
	}
}

// Run prints the summary of a pipeline run and, when the rollback did not
// recover, the rendered emergency guidance.
func (p *Printer) Run(run *PipelineRun) {
	if run == nil {
		return
	}
	status := string(run.Status)
	outcome := ""
	if run.Rollback != nil {
		outcome = string(run.Rollback.Outcome)
	}
	p.heading(fmt.Sprintf("%s %s", label(run.Verb), shortID(run.ID)))
	for _, res := range run.Results {
		mark := p.style(styleOK, "ok")
		if !res.OK {
			mark = p.style(styleFail, "FAIL")
		}
		fmt.Fprintf(p.w, "  %2d. %-24s %s %s\n", res.Index+1, res.Name, mark, p.style(styleDim, res.Duration.Round(time.Millisecond).String()))
	}
	for _, w := range run.Warnings {
		fmt.Fprintf(p.w, "  %s\n", p.style(styleWarn, "! "+w))
	}
	fmt.Fprintf(p.w, "%s: %s\n", p.runStatus(status, outcome), Summary(run))
	p.Rollback(run.Rollback)
}

// Rollback prints the emergency guidance of an unrecovered rollback.
func (p *Printer) Rollback(r *RollbackReport) {
	if r == nil || r.Recovered() || r.Guidance == "" {
		return
	}
	if p.color {
		fmt.Fprintln(p.w, RenderMarkdown(r.Guidance, 100))
		return
	}
	fmt.Fprintln(p.w, r.Guidance)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
