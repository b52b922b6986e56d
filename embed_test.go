package routeguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoveryGuideIsEmbedded(t *testing.T) {
	guide := RecoveryGuide()
	assert.True(t, strings.HasPrefix(guide, "## Manual recovery"))
	assert.Contains(t, guide, "routeguard --status")
}
