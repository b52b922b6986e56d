// Package snapshot captures and restores a best-effort, point-in-time bundle
// of host network and service state. A captured snapshot is never modified:
// its copies are made read-only and restore only reads from it.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	manifestName = "manifest.yaml"
	dirPrefix    = "snapshot_"
	filesDir     = "files"
	servicesDir  = "services"
	routesFile   = "routes.txt"
	rulesFile    = "rules.txt"
	ifacesFile   = "interfaces.txt"
)

var (
	// ErrBackupWrite means the snapshot could not be written; no risky
	// action may follow.
	ErrBackupWrite = errors.New("snapshot write failed")
	// ErrRestore means one or more artifacts could not be reapplied.
	ErrRestore = errors.New("snapshot restore failed")
	// ErrNoSnapshot means the snapshot directory holds no snapshot.
	ErrNoSnapshot = errors.New("no backup found")
)

// WriteError wraps the cause of a failed capture.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("snapshot write failed at %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrBackupWrite, e.Err} }

// ArtifactFailure names one artifact restore could not reapply.
type ArtifactFailure struct {
	Artifact string
	Err      error
}

// RestoreError collects every artifact restore failed on. Restore keeps going
// after a failure, so a RestoreError describes a partial restore.
type RestoreError struct {
	Failures []ArtifactFailure
}

func (e *RestoreError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Artifact, f.Err))
	}
	return fmt.Sprintf("restore failed for %d artifact(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *RestoreError) Unwrap() error { return ErrRestore }

// Artifacts returns the names of the failed artifacts.
func (e *RestoreError) Artifacts() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Artifact)
	}
	return out
}

// ArtifactKind groups captured files by what reapplying them requires.
type ArtifactKind string

const (
	KindNetwork ArtifactKind = "network"
	KindConfig  ArtifactKind = "config"
)

// Artifact is one captured file. Absent files are recorded with
// Present=false and skipped on restore.
type Artifact struct {
	Source  string       `yaml:"source"`
	Kind    ArtifactKind `yaml:"kind"`
	Present bool         `yaml:"present"`
	Copy    string       `yaml:"copy,omitempty"`
	Mode    uint32       `yaml:"mode,omitempty"`
	Size    int64        `yaml:"size,omitempty"`
	Note    string       `yaml:"note,omitempty"`
}

// ServiceState is the captured state of one unit.
type ServiceState struct {
	Active  bool `yaml:"active"`
	Enabled bool `yaml:"enabled"`
}

// Snapshot is the manifest of one capture.
type Snapshot struct {
	ID              string                  `yaml:"id"`
	CreatedAt       time.Time               `yaml:"created_at"`
	Hostname        string                  `yaml:"hostname,omitempty"`
	Interfaces      []string                `yaml:"interfaces"`
	DefaultRoutes   []string                `yaml:"default_routes"`
	Services        map[string]ServiceState `yaml:"services"`
	SafeModeService string                  `yaml:"safe_mode_service,omitempty"`
	Artifacts       []Artifact              `yaml:"artifacts"`
	Warnings        []string                `yaml:"warnings,omitempty"`

	// Dir is where the snapshot lives; set when loaded.
	Dir string `yaml:"-"`
}

// Name is the snapshot directory's base name.
func (s *Snapshot) Name() string {
	return dirName(s.CreatedAt, s.ID)
}

// ServiceWasActive reports whether unit was active at capture time.
func (s *Snapshot) ServiceWasActive(unit string) bool {
	st, ok := s.Services[unit]
	return ok && st.Active
}

// SafeModeWasActive reports whether the safe-mode baseline was running.
func (s *Snapshot) SafeModeWasActive() bool {
	return s.SafeModeService != "" && s.ServiceWasActive(s.SafeModeService)
}

// ActiveServices returns the units that were active, sorted.
func (s *Snapshot) ActiveServices() []string {
	var out []string
	for name, st := range s.Services {
		if st.Active {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Artifact returns the artifact captured from source.
func (s *Snapshot) Artifact(source string) (Artifact, bool) {
	for _, a := range s.Artifacts {
		if a.Source == source {
			return a, true
		}
	}
	return Artifact{}, false
}

func dirName(created time.Time, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s%s_%s", dirPrefix, created.Format("20060102_150405"), short)
}
