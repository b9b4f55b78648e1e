package fileutil

import (
	"os"
	"path/filepath"
	"strings"
)

// CanSymlink probes whether native symlink creation works inside dir. Some
// platforms and mounts (notably Windows without the symlink privilege, and
// certain network shares) cannot create symlinks; callers hold the result
// as a per-destination capability and fall back to dereference-and-copy.
func CanSymlink(dir string) bool {
	if err := EnsureDir(dir); err != nil {
		return false
	}
	target, err := os.CreateTemp(dir, ".symlink-target-*")
	if err != nil {
		return false
	}
	target.Close()
	defer os.Remove(target.Name())

	link := target.Name() + ".link"
	if err := os.Symlink(filepath.Base(target.Name()), link); err != nil {
		return false
	}
	os.Remove(link)
	return true
}

// ReadLink returns the link text of the symlink at path, with backslashes
// normalized to forward slashes.
func ReadLink(path string) (string, error) {
	text, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(text, "\\", "/"), nil
}

// MakeLink creates a symlink at link pointing at target, replacing any
// existing file, link, or directory at that path. The replacement is done
// by creating the link under a temporary name in the same directory and
// renaming it over the destination, so there is no window where link is
// missing.
func MakeLink(target, link string) error {
	dir := filepath.Dir(link)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	// a directory cannot be replaced by rename; clear it first
	if fi, err := os.Lstat(link); err == nil && fi.IsDir() && fi.Mode()&os.ModeSymlink == 0 {
		if err := os.RemoveAll(link); err != nil {
			return err
		}
	}
	tmp := filepath.Join(dir, "."+filepath.Base(link)+".swap")
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// CopyLink recreates the symlink at src as dst, preserving the link text
// exactly. Any existing entry at dst is replaced.
func CopyLink(src, dst string) error {
	text, err := ReadLink(src)
	if err != nil {
		return err
	}
	return MakeLink(text, dst)
}
