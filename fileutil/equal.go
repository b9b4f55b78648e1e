package fileutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// SameContents reports whether the objects at a and b are equal. Files
// compare by mode and line-ending-insensitive content, symlinks by link
// text, directories recursively over their file listings. Entries matching
// ign are excluded from directory comparison; pass nil to include
// everything.
func SameContents(a, b string, ign Patterns) (bool, error) {
	fa, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Lstat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	switch {
	case fa.Mode()&os.ModeSymlink != 0 || fb.Mode()&os.ModeSymlink != 0:
		return sameLinks(a, b)
	case fa.IsDir() && fb.IsDir():
		return sameTrees(a, b, ign)
	case fa.IsDir() != fb.IsDir():
		return false, nil
	default:
		return SameFileContents(a, b)
	}
}

// SameFileContents compares two regular files. File modes must match.
// Text content is compared line by line with line endings normalized, so
// CRLF, CR and LF are equivalent. Content that is not valid UTF-8 falls
// back to an exact byte comparison.
func SameFileContents(a, b string) (bool, error) {
	fa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	fb, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if fa.Mode().Perm() != fb.Mode().Perm() {
		return false, nil
	}
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	if bytes.Equal(da, db) {
		return true, nil
	}
	if !utf8.Valid(da) || !utf8.Valid(db) {
		return false, nil
	}
	return normalizeEOL(da) == normalizeEOL(db), nil
}

// normalizeEOL rewrites CRLF and bare CR line endings as LF and drops a
// single trailing newline, so files differing only in line endings or
// final-newline presence compare equal.
func normalizeEOL(data []byte) string {
	s := string(data)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSuffix(s, "\n")
}

func sameLinks(a, b string) (bool, error) {
	ta, err := ReadLink(a)
	if err != nil {
		return false, err
	}
	tb, err := ReadLink(b)
	if err != nil {
		return false, nil
	}
	return ta == tb, nil
}

// sameTrees compares the full (non-ignorable) file listing of a against
// the corresponding paths under b. Listing sizes must match, so a file
// present only in b also makes the trees unequal.
func sameTrees(a, b string, ign Patterns) (bool, error) {
	afiles, err := Files(a, ign)
	if err != nil {
		return false, err
	}
	bfiles, err := Files(b, ign)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(afiles) != len(bfiles) {
		return false, nil
	}
	for _, f := range afiles {
		rel, err := filepath.Rel(a, f)
		if err != nil {
			return false, err
		}
		other := filepath.Join(b, rel)
		fi, err := os.Lstat(f)
		if err != nil {
			return false, err
		}
		var eq bool
		if fi.Mode()&os.ModeSymlink != 0 {
			eq, err = sameLinks(f, other)
		} else {
			eq, err = SameFileContents(f, other)
		}
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}
