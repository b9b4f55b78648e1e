// Package vcs defines the version-control facts consumed by the dist
// package. Real repository integration lives outside this module; publish
// operations only need a handful of opaque answers, declared here as an
// interface so callers can supply any backend.
package vcs

// Source answers the revision questions a publish operation asks. All
// answers are opaque facts: dist never interprets them beyond equality
// and prefix checks.
type Source interface {
	// Head returns the current revision identifier, or "" when the
	// project is not under version control.
	Head() string

	// ShortHead returns an abbreviated revision identifier suitable for
	// embedding in version object names, or "".
	ShortHead() string

	// Branch returns the current branch name, or "".
	Branch() string

	// HasLocalChanges reports whether path has uncommitted modifications.
	HasLocalChanges(path string) bool

	// Behind reports whether local history is behind the remote.
	Behind() bool
}

// None is the Source for projects without version control. Every answer
// is the zero value, so publishes proceed without revision suffixes or
// precondition checks.
type None struct{}

func (None) Head() string                { return "" }
func (None) ShortHead() string           { return "" }
func (None) Branch() string              { return "" }
func (None) HasLocalChanges(string) bool { return false }
func (None) Behind() bool                { return false }

// Static is a Source with fixed answers, used by tests and by callers
// that gather revision facts out of band.
type Static struct {
	Rev     string
	Short   string
	Br      string
	Dirty   bool
	IsStale bool
}

func (s Static) Head() string                { return s.Rev }
func (s Static) ShortHead() string           { return s.Short }
func (s Static) Branch() string              { return s.Br }
func (s Static) HasLocalChanges(string) bool { return s.Dirty }
func (s Static) Behind() bool                { return s.IsStale }
