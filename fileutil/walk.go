package fileutil

import (
	"os"
	"path/filepath"
)

// Files returns the regular files under root that are not ignorable,
// never descending into ignorable directories. The returned paths are
// joined with root. If root is itself a file, it is returned alone.
func Files(root string, ign Patterns) ([]string, error) {
	fi, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		if ign.MatchName(filepath.Base(root)) {
			return nil, nil
		}
		return []string{root}, nil
	}
	var out []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
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
		if info.Mode().IsRegular() || info.Mode()&os.ModeSymlink != 0 {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
