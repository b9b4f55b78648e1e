package dist

import (
	"os"
	"strings"

	"github.com/rsgalloway/distman/fileutil"
)

// Current returns the version the pointer at dest references, resolved
// against the enumerated version list. ErrNoMatch is returned when the
// pointer is missing, is not a symlink, or references an object that no
// longer exists.
func Current(dest string) (Version, error) {
	text, err := fileutil.ReadLink(dest)
	if err != nil {
		return Version{}, ErrNoMatch
	}
	if !strings.HasPrefix(text, VersionsDir+"/") {
		return Version{}, ErrNoMatch
	}
	list, err := Versions(dest)
	if err != nil {
		return Version{}, err
	}
	for _, v := range list {
		if v.LinkText() == text {
			return v, nil
		}
	}
	return Version{}, ErrNoMatch
}

// pointerOK reports whether the pointer at dest exists and references v.
func pointerOK(dest string, v Version) bool {
	text, err := fileutil.ReadLink(dest)
	if err != nil {
		return false
	}
	if text != v.LinkText() {
		return false
	}
	// a pointer whose object vanished is broken, not ok
	_, err = os.Stat(v.Path)
	return err == nil
}

// setPointer repoints dest at v, replacing any existing pointer. The swap
// is performed by creating the new link under a temporary name and
// renaming it over the destination, so readers never observe a missing
// pointer.
func setPointer(dest string, v Version) error {
	return fileutil.MakeLink(v.LinkText(), dest)
}
