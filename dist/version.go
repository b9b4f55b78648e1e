// Package dist implements the versioned, symlink-indirected store. A
// published target lives at its destination path as a symlink (the
// pointer) into a sibling versions/ directory holding immutable,
// monotonically numbered version objects:
//
//	<destDir>/<name>                        pointer symlink
//	<destDir>/.<name>.dist                  sidecar metadata
//	<destDir>/versions/<name>.<N>[.<rev>]   version objects
//
// Version objects are only ever created or deleted, never modified. The
// pointer is the sole mutable piece of published state.
package dist

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// VersionsDir is the directory beside each pointer that holds its
	// version objects.
	VersionsDir = "versions"

	// InfoExt is the extension of the hidden sidecar metadata file
	// written next to each pointer.
	InfoExt = ".dist"
)

var (
	// ErrNoVersions indicates a target has no version history.
	ErrNoVersions = errors.New("no versioned files found")

	// ErrNoMatch indicates no version matched the selection.
	ErrNoMatch = errors.New("no matching version")

	// ErrActiveVersion is the refusal to delete the version currently
	// referenced by the live pointer.
	ErrActiveVersion = errors.New("version is referenced by the active pointer")

	// ErrOffsetRange indicates a rollback offset that reaches past the
	// available history, or a non-negative offset.
	ErrOffsetRange = errors.New("offset out of range")
)

// Version is one immutable version object of a target.
type Version struct {
	Path string // absolute path of the object
	Num  int    // strictly increasing per pointer, gaps tolerated
	Rev  string // optional short revision identifier, may be ""
}

// Name returns the object's file name, <base>.<N>[.<rev>].
func (v Version) Name() string {
	return filepath.Base(v.Path)
}

// LinkText returns the pointer link text referencing this version,
// always relative to the pointer's directory.
func (v Version) LinkText() string {
	return VersionsDir + "/" + v.Name()
}

// Versions enumerates the version objects of the pointer at dest, sorted
// ascending by number. A missing versions directory yields an empty list.
func Versions(dest string) ([]Version, error) {
	dir := filepath.Join(filepath.Dir(dest), VersionsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	base := filepath.Base(dest)
	var list []Version
	for _, e := range entries {
		num, rev, ok := parseVersionName(e.Name(), base)
		if !ok {
			continue
		}
		list = append(list, Version{
			Path: filepath.Join(dir, e.Name()),
			Num:  num,
			Rev:  rev,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Num < list[j].Num })
	return list, nil
}

// parseVersionName splits a versions/ entry name of the form
// <base>.<digits>[.<rev>[.<junk>]] into its number and revision. The
// revision is truncated at '-', reserved for forced-publish annotations.
func parseVersionName(name, base string) (num int, rev string, ok bool) {
	if !strings.HasPrefix(name, base+".") {
		return 0, "", false
	}
	info := name[len(base)+1:]
	numstr := info
	if dot := strings.Index(info, "."); dot >= 0 {
		numstr = info[:dot]
		rev = info[dot+1:]
		if dot2 := strings.Index(rev, "."); dot2 >= 0 {
			rev = rev[:dot2]
		}
		if dash := strings.Index(rev, "-"); dash >= 0 {
			rev = rev[:dash]
		}
	}
	n, err := strconv.Atoi(numstr)
	if err != nil || n < 0 {
		return 0, "", false
	}
	return n, rev, true
}

// HashesEqual compares two revision hashes regardless of abbreviation or
// case: the shorter must be a case-insensitive prefix of the longer.
func HashesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if len(a) > len(b) {
		return strings.HasPrefix(a, b)
	}
	return strings.HasPrefix(b, a)
}
