package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func patch(t *testing.T, version, commit string, reader func() (*debug.BuildInfo, bool)) {
	t.Helper()
	origVersion, origCommit, origReader := Version, Commit, readBuildInfo
	Version, Commit = version, commit
	if reader != nil {
		readBuildInfo = reader
	}
	t.Cleanup(func() {
		Version, Commit, readBuildInfo = origVersion, origCommit, origReader
	})
}

func TestStringPrefersInjectedVersion(t *testing.T) {
	patch(t, " v1.2.3 ", "", func() (*debug.BuildInfo, bool) {
		t.Fatalf("build info read although a version was injected")
		return nil, false
	})
	assert.Equal(t, "1.2.3", String())
}

func TestStringUsesBuildInfo(t *testing.T) {
	patch(t, "", "", func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v2.3.4"}}, true
	})
	assert.Equal(t, "2.3.4", String())
}

func TestStringFallsBackToPlaceholder(t *testing.T) {
	for name, reader := range map[string]func() (*debug.BuildInfo, bool){
		"no build info": func() (*debug.BuildInfo, bool) { return nil, false },
		"empty":         func() (*debug.BuildInfo, bool) { return &debug.BuildInfo{}, true },
		"devel": func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
		},
	} {
		t.Run(name, func(t *testing.T) {
			patch(t, "", "", reader)
			assert.Equal(t, placeholder, String())
		})
	}
}

func TestFullAppendsShortRevision(t *testing.T) {
	patch(t, "1.0.0", "", func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}}}, true
	})
	assert.Equal(t, "0123456", Revision())
	assert.Equal(t, "1.0.0+0123456", Full())

	patch(t, "1.0.0", "", func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, "1.0.0", Full())

	patch(t, "1.0.0", "abc", nil)
	assert.Equal(t, "1.0.0+abc", Full())
}
