package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
)

// Resolved is a target with its destination tokens expanded and any
// wildcard applied. Source is relative to the manifest directory;
// Destination is an absolute or normalized deploy path.
type Resolved struct {
	Name        string
	Source      string
	Destination string
}

// Resolve expands every target in the manifest. A target whose source
// contains a single '*' wildcard produces one Resolved entry per matching
// source path, with the captured text substituted for %1 in the
// destination template and appended to the target name.
func (m *Manifest) Resolve() ([]Resolved, error) {
	var out []Resolved
	names := make([]string, 0, len(m.Targets))
	for name := range m.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := m.Targets[name]
		if t.Source == "" || t.Destination == "" {
			return nil, errors.Errorf("target %s: missing 'source' or 'destination'", name)
		}
		if strings.Contains(t.Source, "*") {
			expanded, err := m.expandWildcard(name, t)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			continue
		}
		dest, err := ExpandVars(t.Destination)
		if err != nil {
			return nil, errors.Wrapf(err, "target %s", name)
		}
		out = append(out, Resolved{
			Name:        name,
			Source:      fileutil.NormalizePath(t.Source),
			Destination: fileutil.NormalizePath(dest),
		})
	}
	return out, nil
}

// expandWildcard turns one starred declaration into a Resolved entry per
// matching source path. Only a single '*' is supported.
func (m *Manifest) expandWildcard(name string, t Target) ([]Resolved, error) {
	if strings.Count(t.Source, "*") > 1 {
		return nil, errors.Errorf("target %s: only one '*' allowed in source", name)
	}
	pattern := fileutil.NormalizePath(t.Source)
	matches, err := filepath.Glob(filepath.Join(m.Dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "target %s", name)
	}
	star := strings.Index(pattern, "*")
	prefix, suffix := pattern[:star], pattern[star+1:]
	var out []Resolved
	for _, match := range matches {
		rel, err := filepath.Rel(m.Dir, match)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		capture := strings.TrimSuffix(strings.TrimPrefix(rel, prefix), suffix)
		dest := strings.ReplaceAll(t.Destination, "%1", capture)
		dest, err = ExpandVars(dest)
		if err != nil {
			return nil, errors.Wrapf(err, "target %s", name)
		}
		out = append(out, Resolved{
			Name:        name + ":" + capture,
			Source:      rel,
			Destination: fileutil.NormalizePath(dest),
		})
	}
	if out == nil {
		return nil, errors.Errorf("target %s: no sources match %q", name, t.Source)
	}
	return out, nil
}

// SourcePath returns the absolute path of the resolved source under the
// manifest directory. An error is returned if the source escapes it.
func (m *Manifest) SourcePath(r Resolved) (string, error) {
	abs := filepath.Join(m.Dir, r.Source)
	rel, err := filepath.Rel(m.Dir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("target %s: source %q outside project", r.Name, r.Source)
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", errors.Errorf("target %s: source '%s' does not exist", r.Name, r.Source)
	}
	return abs, nil
}
