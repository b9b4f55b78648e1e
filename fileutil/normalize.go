package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// CopyNormalized copies src to dst, rewriting text line endings to LF so
// published payloads are byte-stable across producing platforms. Content
// that is not valid UTF-8 is copied verbatim. The write is staged and
// renamed like AtomicCopy.
func CopyNormalized(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		return AtomicCopy(src, dst)
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	tmpname := tmp.Name()
	_, err = tmp.WriteString(text)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpname, fi.Mode().Perm())
	}
	if err == nil {
		err = os.Rename(tmpname, dst)
	}
	if err != nil {
		os.Remove(tmpname)
	}
	return err
}
