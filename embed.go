package routeguard

import (
	_ "embed"
)

//go:embed docs/recovery.md
var recoveryGuide string

// RecoveryGuide returns the manual recovery instructions shown when a
// rollback cannot restore connectivity.
func RecoveryGuide() string {
	return recoveryGuide
}
