// Package fileutil provides the file system primitives shared by the dist,
// mirror, treediff and prune packages: path normalization, fast file
// signatures, atomic copies, symlink helpers, ignore patterns, and content
// equality checks.
//
// Copies are always staged to a temporary file in the destination directory
// and moved into place with a single rename, so a concurrent reader never
// observes a partially written file.
package fileutil

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrDangerousRoot is returned by operations that refuse to act on a root
// directory that looks like a misconfiguration (filesystem root or a path
// with too few components).
var ErrDangerousRoot = errors.New("refusing to operate on dangerous root")

// Signature is the cheap identity of a file: size plus modification time.
// Two files with equal signatures are assumed identical by the mirror's
// skip check. It is not a content hash.
type Signature struct {
	Size    int64
	ModTime int64 // nanoseconds
}

// Sig returns the signature of the file at path.
func Sig(path string) (Signature, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}, nil
}

// SameFile reports whether src and dst have identical signatures. Missing
// files compare as different.
func SameFile(src, dst string) bool {
	a, err := Sig(src)
	if err != nil {
		return false
	}
	b, err := Sig(dst)
	if err != nil {
		return false
	}
	return a == b
}

// EnsureDir creates the directory p and any missing parents.
func EnsureDir(p string) error {
	return os.MkdirAll(p, 0775)
}

// AtomicCopy copies the file at src to dst. The content is written to a
// temporary file in dst's directory and renamed into place, so dst is never
// observed in a partially written state. The source's mode and modification
// time are preserved so signature comparisons hold across copies.
func AtomicCopy(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	tmpname := tmp.Name()
	_, err = io.Copy(tmp, in)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpname, fi.Mode().Perm())
	}
	if err == nil {
		err = os.Chtimes(tmpname, fi.ModTime(), fi.ModTime())
	}
	if err == nil {
		err = os.Rename(tmpname, dst)
	}
	if err != nil {
		os.Remove(tmpname)
		return errors.Wrapf(err, "copy %s", src)
	}
	return nil
}

// RemoveObject deletes a file, symlink, or directory tree at path. Symlinks
// are removed, never followed. A missing path is not an error.
func RemoveObject(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

// NormalizePath converts backslashes to forward slashes, strips any leading
// "./" and trailing slash, and cleans the result.
func NormalizePath(path string) string {
	if path == "" {
		return path
	}
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimPrefix(path, "./")
	return filepath.Clean(path)
}

// CheckRoot verifies that root is safe to mutate destructively. It refuses
// filesystem roots and paths with fewer than three components (counting the
// root anchor), returning ErrDangerousRoot.
func CheckRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	if abs == string(filepath.Separator) || abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return errors.Wrap(ErrDangerousRoot, abs)
	}
	var n int
	for _, seg := range strings.Split(abs, string(filepath.Separator)) {
		if seg != "" {
			n++
		}
	}
	if n < 2 {
		return errors.Wrap(ErrDangerousRoot, abs)
	}
	return nil
}
