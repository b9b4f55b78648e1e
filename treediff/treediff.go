// Package treediff compares two directory trees and reports their
// symmetric difference. It is used both for staleness display and for
// verifying that a mirrored cache matches its deploy tree.
//
// Missing subtrees are collapsed to a single entry for the missing
// directory, and entries under a versions/ directory sort by version
// number rather than lexically, so version history reads in publish
// order.
package treediff

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
)

// Kind classifies one difference entry.
type Kind int

const (
	// OnlyInA is an entry present in the first tree only.
	OnlyInA Kind = iota
	// OnlyInB is an entry present in the second tree only.
	OnlyInB
	// Changed is a shared file whose content differs.
	Changed
	// LinkTarget is a shared symlink whose link text differs.
	LinkTarget
	// TypeMismatch is a shared path that is a directory in one tree and
	// a file in the other.
	TypeMismatch
	// LinkMismatch is a shared path that is a symlink in only one tree.
	LinkMismatch
	// ReadError is a shared path that could not be examined.
	ReadError
)

// Entry is one reported difference.
type Entry struct {
	Path   string // relative to the tree roots
	Kind   Kind
	Detail string // optional, e.g. the error text for ReadError
	Patch  string // unified diff body when content diffs are requested
}

func (e Entry) String() string {
	switch e.Kind {
	case OnlyInA:
		return "+ " + e.Path
	case OnlyInB:
		return "- " + e.Path
	case Changed:
		return "~ " + e.Path + " [changed]"
	case LinkTarget:
		return "~ " + e.Path + " [symlink target differs]"
	case TypeMismatch:
		return "~ " + e.Path + " [dir/file type mismatch]"
	case LinkMismatch:
		return "~ " + e.Path + " [symlink vs non-symlink mismatch]"
	case ReadError:
		return "~ " + e.Path + " [error: " + e.Detail + "]"
	}
	return e.Path
}

// Report is the ordered difference list between two trees.
type Report struct {
	Entries []Entry
}

// Count returns the number of differences. Zero means the trees are
// semantically identical.
func (r *Report) Count() int { return len(r.Entries) }

func (r *Report) String() string {
	var b strings.Builder
	for _, e := range r.Entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
		if e.Patch != "" {
			b.WriteString(e.Patch)
		}
	}
	return b.String()
}

// Differ compares trees. The zero value uses the default ignorable set
// and reports no content patches.
type Differ struct {
	// Ignores filters traversal. Nil selects the default set.
	Ignores fileutil.Patterns

	// ShowContent attaches unified diffs to Changed entries for text
	// files.
	ShowContent bool
}

func (d *Differ) ignores() fileutil.Patterns {
	if d.Ignores == nil {
		return fileutil.DefaultIgnores()
	}
	return d.Ignores
}

// Diff compares the trees rooted at aroot and broot.
func (d *Differ) Diff(aroot, broot string) (*Report, error) {
	aset, adirs, err := collect(aroot, d.ignores())
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", aroot)
	}
	bset, bdirs, err := collect(broot, d.ignores())
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", broot)
	}

	onlyA := subtract(aset, bset)
	onlyB := subtract(bset, aset)
	collapse(onlyA, adirs)
	collapse(onlyB, bdirs)

	rep := &Report{}
	for _, rel := range sortVersionAware(keys(onlyA)) {
		rep.Entries = append(rep.Entries, Entry{Path: rel, Kind: OnlyInA})
	}
	for _, rel := range sortVersionAware(keys(onlyB)) {
		rep.Entries = append(rep.Entries, Entry{Path: rel, Kind: OnlyInB})
	}

	var common []string
	for rel := range aset {
		if _, ok := bset[rel]; ok {
			common = append(common, rel)
		}
	}
	sort.Strings(common)
	for _, rel := range common {
		if e, diff := d.classify(aroot, broot, rel); diff {
			rep.Entries = append(rep.Entries, e)
		}
	}
	return rep, nil
}

// classify examines one path shared by both trees.
func (d *Differ) classify(aroot, broot, rel string) (Entry, bool) {
	a := filepath.Join(aroot, rel)
	b := filepath.Join(broot, rel)
	fa, err := os.Lstat(a)
	if err != nil {
		return Entry{Path: rel, Kind: ReadError, Detail: err.Error()}, true
	}
	fb, err := os.Lstat(b)
	if err != nil {
		return Entry{Path: rel, Kind: ReadError, Detail: err.Error()}, true
	}
	alink := fa.Mode()&os.ModeSymlink != 0
	blink := fb.Mode()&os.ModeSymlink != 0
	switch {
	case alink && blink:
		ta, err1 := fileutil.ReadLink(a)
		tb, err2 := fileutil.ReadLink(b)
		if err1 != nil || err2 != nil || ta != tb {
			return Entry{Path: rel, Kind: LinkTarget}, true
		}
	case alink != blink:
		return Entry{Path: rel, Kind: LinkMismatch}, true
	case fa.IsDir() != fb.IsDir():
		return Entry{Path: rel, Kind: TypeMismatch}, true
	case !fa.IsDir():
		eq, err := fileutil.SameFileContents(a, b)
		if err != nil {
			return Entry{Path: rel, Kind: ReadError, Detail: err.Error()}, true
		}
		if !eq {
			e := Entry{Path: rel, Kind: Changed}
			if d.ShowContent {
				e.Patch = contentPatch(a, b, rel)
			}
			return e, true
		}
	}
	return Entry{}, false
}

// collect gathers the relative path set of a tree (files and directories
// both), skipping ignorable entries and never descending into ignorable
// directories. dirs records which entries are directories, for
// collapsing.
func collect(root string, ign fileutil.Patterns) (map[string]bool, map[string]bool, error) {
	set := make(map[string]bool)
	dirs := make(map[string]bool)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return set, dirs, nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if ign.MatchName(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		set[rel] = true
		if info.IsDir() {
			dirs[rel] = true
		}
		return nil
	})
	return set, dirs, err
}

func subtract(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if !b[k] {
			out[k] = true
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// collapse removes entries whose ancestor directory is itself missing,
// so an absent subtree reports once.
func collapse(missing, dirs map[string]bool) {
	for rel := range missing {
		for parent := parentOf(rel); parent != ""; parent = parentOf(parent) {
			if missing[parent] && dirs[parent] {
				delete(missing, rel)
				break
			}
		}
	}
}

func parentOf(rel string) string {
	i := strings.LastIndex(rel, "/")
	if i < 0 {
		return ""
	}
	return rel[:i]
}

// versionKey is the sort key for paths under a versions/ segment:
// (parent path, version number, revision, full path). Other paths sort
// lexically ahead of versioned siblings.
type versionKey struct {
	parent string
	num    int
	rev    string
	full   string
}

func sortKey(rel string) versionKey {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		if p != "versions" || i+1 >= len(parts) {
			continue
		}
		obj := parts[i+1]
		if num, rev, ok := parseVersioned(obj); ok {
			return versionKey{
				parent: strings.Join(parts[:i+1], "/"),
				num:    num,
				rev:    rev,
				full:   rel,
			}
		}
	}
	return versionKey{parent: "", num: -1, rev: "", full: rel}
}

// parseVersioned splits a version object name <base>.<N>[.<rev>] on the
// first dotted integer.
func parseVersioned(name string) (int, string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return 0, "", false
	}
	num, err := strconv.Atoi(parts[1])
	if err != nil || num < 0 {
		return 0, "", false
	}
	rev := ""
	if len(parts) > 2 {
		rev = parts[2]
	}
	return num, rev, true
}

func sortVersionAware(rels []string) []string {
	sort.Slice(rels, func(i, j int) bool {
		a, b := sortKey(rels[i]), sortKey(rels[j])
		if a.parent != b.parent {
			return a.parent < b.parent
		}
		if a.num != b.num {
			return a.num < b.num
		}
		if a.rev != b.rev {
			return a.rev < b.rev
		}
		return a.full < b.full
	})
	return rels
}
