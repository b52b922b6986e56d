package orchestrator

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/tis24dev/routeguard/internal/probe"
)

// EmergencyGuidance builds the markdown shown after an unrecovered rollback.
// guide, when set, is appended verbatim.
func EmergencyGuidance(r *RollbackReport, spec probe.Spec, guide string) string {
	var b strings.Builder
	b.WriteString("# Connectivity was not restored\n\n")
	fmt.Fprintf(&b, "The rollback completed but `%s` is still unreachable after %d attempt(s). ", spec.Target, r.ProbeAttempts)
	b.WriteString("Work from the local console; remote sessions may not survive.\n\n")

	b.WriteString("## What was done\n\n")
	if len(r.Stopped) > 0 {
		fmt.Fprintf(&b, "- stopped: %s\n", strings.Join(r.Stopped, ", "))
	}
	if len(r.Disabled) > 0 {
		fmt.Fprintf(&b, "- disabled: %s\n", strings.Join(r.Disabled, ", "))
	}
	if r.Snapshot != "" {
		fmt.Fprintf(&b, "- snapshot reapplied: `%s`\n", r.Snapshot)
	}
	if failed := r.RestoreFailures(); len(failed) > 0 {
		fmt.Fprintf(&b, "- **not restored**: %s\n", strings.Join(failed, ", "))
	}
	if r.SafeModeService != "" {
		switch {
		case r.SafeModeStarted:
			fmt.Fprintf(&b, "- safe mode `%s` is running\n", r.SafeModeService)
		case r.SafeModeErr != nil:
			fmt.Fprintf(&b, "- **safe mode `%s` failed to start**: %v\n", r.SafeModeService, r.SafeModeErr)
		}
	}

	b.WriteString("\n## Next steps\n\n")
	b.WriteString("1. `ip -br addr` and `ip route show` to confirm addresses and a default route.\n")
	fmt.Fprintf(&b, "2. `ping -c 3 %s` to check the uplink directly.\n", spec.Target)
	if r.SafeModeService != "" {
		fmt.Fprintf(&b, "3. `systemctl status %s` and `journalctl -u %s -n 50` for the baseline service.\n", r.SafeModeService, r.SafeModeService)
	}
	b.WriteString("4. `routeguard --restore` reapplies the latest snapshot again once the cause is fixed.\n")

	if guide = strings.TrimSpace(guide); guide != "" {
		b.WriteString("\n")
		b.WriteString(guide)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderMarkdown renders text for a terminal, returning it unchanged when
// rendering is unavailable.
func RenderMarkdown(text string, width int) string {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
