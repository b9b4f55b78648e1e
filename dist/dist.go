package dist

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
	"github.com/rsgalloway/distman/vcs"
)

// Result is the outcome of a publish.
type Result int

const (
	// Unchanged means the payload matched an existing version and the
	// pointer already referenced it; nothing was done.
	Unchanged Result = iota
	// Fixed means the payload matched an existing version but the
	// pointer was missing or broken and has been repaired.
	Fixed
	// Updated means a new version object was created and the pointer
	// now references it.
	Updated
)

func (r Result) String() string {
	switch r {
	case Unchanged:
		return "Unchanged"
	case Fixed:
		return "Fixed"
	case Updated:
		return "Updated"
	}
	return "Unknown"
}

var (
	// ErrUncommitted is the precondition failure for a payload with
	// uncommitted changes. Bypassed by Force.
	ErrUncommitted = errors.New("source has uncommitted changes, commit or use force")

	// ErrBehindRemote is the precondition failure for local history
	// behind the remote. Bypassed by Force.
	ErrBehindRemote = errors.New("local history is behind remote, pull or use force")
)

// Store performs publish, selection and deletion operations against
// destination paths. The zero value is usable; Source defaults to
// vcs.None and Lookback to 1.
type Store struct {
	// Source supplies revision facts. Publishes embed its short head in
	// version names and honor its precondition answers.
	Source vcs.Source

	// Ignores filters payload files during copy and comparison. Nil
	// selects the default ignorable set.
	Ignores fileutil.Patterns

	// IncludeAll disables ignore filtering entirely, including hidden
	// files.
	IncludeAll bool

	// Author recorded in sidecar metadata.
	Author string

	// Lookback bounds how many recent versions a publish compares the
	// payload against before creating a new one. Zero means 1.
	Lookback int

	// Force bypasses the uncommitted/behind preconditions. It never
	// bypasses safety refusals.
	Force bool

	// DryRun reports decisions without mutating the filesystem.
	DryRun bool
}

func (s *Store) source() vcs.Source {
	if s.Source == nil {
		return vcs.None{}
	}
	return s.Source
}

func (s *Store) ignores() fileutil.Patterns {
	if s.IncludeAll {
		return nil
	}
	if s.Ignores == nil {
		return fileutil.DefaultIgnores()
	}
	return s.Ignores
}

func (s *Store) lookback() int {
	if s.Lookback <= 0 {
		return 1
	}
	return s.Lookback
}

// Publish stores the payload at src as a new version of dest and points
// dest at it. If the payload equals one of the most recent versions the
// publish is a no-op (Unchanged) or a pointer repair (Fixed) instead.
func (s *Store) Publish(name, src, dest string) (Result, Version, error) {
	if _, err := os.Lstat(src); err != nil {
		return Unchanged, Version{}, errors.Wrapf(err, "source for %s", name)
	}
	if !s.Force {
		if s.source().HasLocalChanges(src) {
			return Unchanged, Version{}, errors.Wrap(ErrUncommitted, name)
		}
		if s.source().Behind() {
			return Unchanged, Version{}, errors.Wrap(ErrBehindRemote, name)
		}
	}

	list, err := Versions(dest)
	if err != nil {
		return Unchanged, Version{}, err
	}

	// bounded lookback: compare against the newest versions only, never
	// the full history
	for i, k := len(list)-1, 0; i >= 0 && k < s.lookback(); i, k = i-1, k+1 {
		v := list[i]
		eq, err := fileutil.SameContents(src, v.Path, s.ignores())
		if err != nil {
			return Unchanged, Version{}, err
		}
		if !eq {
			continue
		}
		if pointerOK(dest, v) {
			return Unchanged, v, nil
		}
		if s.DryRun {
			return Fixed, v, nil
		}
		if err := setPointer(dest, v); err != nil {
			return Unchanged, v, err
		}
		return Fixed, v, nil
	}

	next := 0
	if len(list) > 0 {
		next = list[len(list)-1].Num + 1
	}
	v := Version{Num: next, Rev: s.source().ShortHead()}
	vname := filepath.Base(dest) + "." + strconv.Itoa(next)
	if v.Rev != "" {
		vname += "." + v.Rev
	}
	v.Path = filepath.Join(filepath.Dir(dest), VersionsDir, vname)

	if s.DryRun {
		return Updated, v, nil
	}
	if err := s.copyPayload(src, v.Path); err != nil {
		return Unchanged, v, err
	}
	if err := setPointer(dest, v); err != nil {
		return Unchanged, v, err
	}
	err = WriteInfo(dest, Info{
		Name:   name,
		Origin: src,
		Source: fileutil.NormalizePath(src),
		Author: s.Author,
		Branch: s.source().Branch(),
	})
	if err != nil {
		// provenance only; the publish itself succeeded
		log.Println("warning: writing dist info:", err)
	}
	return Updated, v, nil
}

// copyPayload materializes the payload into a version object. Text files
// are normalized to LF line endings so published bytes are stable across
// producing platforms.
func (s *Store) copyPayload(src, verpath string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fileutil.CopyNormalized(src, verpath)
	}
	files, err := fileutil.Files(src, s.ignores())
	if err != nil {
		return err
	}
	for _, f := range files {
		rel, err := filepath.Rel(src, f)
		if err != nil {
			return err
		}
		target := filepath.Join(verpath, rel)
		lfi, err := os.Lstat(f)
		if err != nil {
			return err
		}
		if lfi.Mode()&os.ModeSymlink != 0 {
			err = fileutil.CopyLink(f, target)
		} else {
			err = fileutil.CopyNormalized(f, target)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Selector chooses one version out of a target's history. Exactly one of
// the fields should be set.
type Selector struct {
	// Num selects the version with this exact number when ByNum is set.
	Num   int
	ByNum bool

	// Rev selects by revision prefix, matched case-insensitively in
	// either direction (abbreviated and full hashes both work).
	Rev string

	// Offset counts back from the newest version: -1 is the second
	// newest. Only strictly negative offsets are valid.
	Offset int
}

// find resolves the selector against the version list. The list must be
// sorted ascending, as returned by Versions.
func (sel Selector) find(list []Version) (Version, error) {
	if len(list) == 0 {
		return Version{}, ErrNoVersions
	}
	switch {
	case sel.Rev != "":
		for _, v := range list {
			if HashesEqual(sel.Rev, v.Rev) {
				return v, nil
			}
		}
		return Version{}, errors.Wrapf(ErrNoMatch, "revision %s", sel.Rev)
	case sel.ByNum:
		for _, v := range list {
			if v.Num == sel.Num {
				return v, nil
			}
		}
		return Version{}, errors.Wrapf(ErrNoMatch, "version %d", sel.Num)
	case sel.Offset < 0:
		if -sel.Offset > len(list)-1 {
			return Version{}, errors.Wrapf(ErrOffsetRange,
				"requested %d versions back but only %d exist", -sel.Offset, len(list)-1)
		}
		return list[len(list)-1+sel.Offset], nil
	default:
		return Version{}, errors.Wrap(ErrOffsetRange, "offset must be negative")
	}
}

// Select repoints dest at the version chosen by sel. On no match the
// pointer is left untouched.
func (s *Store) Select(dest string, sel Selector) (Version, error) {
	list, err := Versions(dest)
	if err != nil {
		return Version{}, err
	}
	v, err := sel.find(list)
	if err != nil {
		return Version{}, err
	}
	if s.DryRun {
		return v, nil
	}
	return v, setPointer(dest, v)
}

// Reset repoints dest at its newest version.
func (s *Store) Reset(dest string) (Version, error) {
	list, err := Versions(dest)
	if err != nil {
		return Version{}, err
	}
	if len(list) == 0 {
		return Version{}, ErrNoVersions
	}
	v := list[len(list)-1]
	if s.DryRun {
		return v, nil
	}
	return v, setPointer(dest, v)
}

// Delete removes a single version chosen by sel, or, when sel is nil,
// the whole target: pointer, sidecar metadata, and every version object.
// Deleting the version the live pointer references is refused with
// ErrActiveVersion, even under Force.
func (s *Store) Delete(dest string, sel *Selector) error {
	list, err := Versions(dest)
	if err != nil {
		return err
	}
	if sel != nil {
		v, err := sel.find(list)
		if err != nil {
			return err
		}
		if cur, err := Current(dest); err == nil && cur.Path == v.Path {
			return errors.Wrap(ErrActiveVersion, v.Name())
		}
		if s.DryRun {
			return nil
		}
		return fileutil.RemoveObject(v.Path)
	}
	if s.DryRun {
		return nil
	}
	if err := fileutil.RemoveObject(dest); err != nil {
		return err
	}
	if err := fileutil.RemoveObject(infoPath(dest)); err != nil {
		return err
	}
	for _, v := range list {
		if err := fileutil.RemoveObject(v.Path); err != nil {
			return err
		}
	}
	// drop the versions dir if this target was the last one in it
	os.Remove(filepath.Join(filepath.Dir(dest), VersionsDir))
	return nil
}
