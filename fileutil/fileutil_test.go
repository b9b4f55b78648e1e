package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %s", path, err)
	}
}

func TestAtomicCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")
	writeFile(t, src, "hello world\n")

	if err := AtomicCopy(src, dst); err != nil {
		t.Fatalf("received %s", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if string(data) != "hello world\n" {
		t.Errorf("Received %q, expected %q", data, "hello world\n")
	}
	// signature must survive the copy so a second pass can skip it
	if !SameFile(src, dst) {
		t.Errorf("signatures differ after copy")
	}
	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Join(dir, "sub"))
	if len(entries) != 1 {
		t.Errorf("Received %d entries, expected 1", len(entries))
	}
}

func TestAtomicCopyFailureLeavesNoPartial(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	dst := filepath.Join(dir, "out", "dst.txt")
	// a directory source makes the content copy fail partway through
	if err := EnsureDir(src); err != nil {
		t.Fatalf("mkdir: %s", err)
	}

	if err := AtomicCopy(src, dst); err == nil {
		t.Fatalf("expected copy failure")
	}
	// nothing at the destination path, complete or otherwise
	if _, err := os.Lstat(dst); err == nil {
		t.Errorf("failed copy left a destination file")
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "out"))
	if len(entries) != 0 {
		t.Errorf("failed copy left %d stray entries", len(entries))
	}

	// an existing destination survives a failed replacement intact
	writeFile(t, dst, "original\n")
	if err := AtomicCopy(src, dst); err == nil {
		t.Fatalf("expected copy failure")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if string(data) != "original\n" {
		t.Errorf("Received %q, expected original content intact", data)
	}
}

func TestSameFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "1234")
	writeFile(t, b, "5678")
	// force identical mtimes; sizes match so signatures match
	fi, _ := os.Stat(a)
	os.Chtimes(b, fi.ModTime(), fi.ModTime())
	if !SameFile(a, b) {
		t.Errorf("expected equal signatures")
	}
	if SameFile(a, filepath.Join(dir, "missing")) {
		t.Errorf("missing file compared as same")
	}
}

func TestMakeLinkReplaces(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "current")
	if err := MakeLink("versions/app.0", link); err != nil {
		t.Fatalf("received %s", err)
	}
	if err := MakeLink("versions/app.1", link); err != nil {
		t.Fatalf("received %s", err)
	}
	text, err := ReadLink(link)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if text != "versions/app.1" {
		t.Errorf("Received %q, expected %q", text, "versions/app.1")
	}
}

func TestCopyLink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src-link")
	dst := filepath.Join(dir, "dst-link")
	if err := os.Symlink("versions/tool.3.abcd1234", src); err != nil {
		t.Skipf("symlinks not supported: %s", err)
	}
	if err := CopyLink(src, dst); err != nil {
		t.Fatalf("received %s", err)
	}
	text, _ := ReadLink(dst)
	if text != "versions/tool.3.abcd1234" {
		t.Errorf("Received %q, expected %q", text, "versions/tool.3.abcd1234")
	}
}

func TestPatterns(t *testing.T) {
	ign := DefaultIgnores()
	var table = []struct {
		path string
		want bool
	}{
		{"main.go", false},
		{".git", true},
		{"src/.git/config", true},
		{"backup.tmp", true},
		{"editor.swp", true},
		{"Thumbs.db", true},
		{"__pycache__", true},
		{"src/lib/util.go", false},
		{".hidden/file", true},
	}
	for _, tab := range table {
		if got := ign.Match(tab.path); got != tab.want {
			t.Errorf("Match(%q) = %v, expected %v", tab.path, got, tab.want)
		}
	}
	// nil patterns include everything
	var all Patterns
	if all.Match(".git") {
		t.Errorf("nil patterns should not match")
	}
}

func TestSameFileContentsLineEndings(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "unix")
	b := filepath.Join(dir, "dos")
	c := filepath.Join(dir, "other")
	writeFile(t, a, "line one\nline two\n")
	writeFile(t, b, "line one\r\nline two\r\n")
	writeFile(t, c, "line one\nline three\n")

	eq, err := SameFileContents(a, b)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if !eq {
		t.Errorf("CRLF file compared unequal to LF file")
	}
	eq, _ = SameFileContents(a, c)
	if eq {
		t.Errorf("different content compared equal")
	}
}

func TestSameFileContentsMode(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "same")
	writeFile(t, b, "same")
	os.Chmod(b, 0755)
	eq, err := SameFileContents(a, b)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if eq {
		t.Errorf("files with different modes compared equal")
	}
}

func TestSameContentsDirs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, filepath.Join(a, "one.txt"), "1\n")
	writeFile(t, filepath.Join(a, "sub", "two.txt"), "2\n")
	writeFile(t, filepath.Join(b, "one.txt"), "1\n")
	writeFile(t, filepath.Join(b, "sub", "two.txt"), "2\n")

	eq, err := SameContents(a, b, DefaultIgnores())
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if !eq {
		t.Errorf("identical trees compared unequal")
	}

	writeFile(t, filepath.Join(a, "sub", "three.txt"), "3\n")
	eq, _ = SameContents(a, b, DefaultIgnores())
	if eq {
		t.Errorf("trees with extra file compared equal")
	}
}

func TestCheckRoot(t *testing.T) {
	if err := CheckRoot("/"); err == nil {
		t.Errorf("accepted filesystem root")
	}
	if err := CheckRoot("/mnt"); err == nil {
		t.Errorf("accepted single-component root")
	}
	if err := CheckRoot(t.TempDir()); err != nil {
		t.Errorf("refused temp dir: %s", err)
	}
}

func TestFilesSkipsIgnorable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.txt"), "x")
	writeFile(t, filepath.Join(dir, ".git", "config"), "x")
	writeFile(t, filepath.Join(dir, "sub", "also.txt"), "x")
	writeFile(t, filepath.Join(dir, "sub", "junk.tmp"), "x")

	files, err := Files(dir, DefaultIgnores())
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if len(files) != 2 {
		t.Fatalf("Received %d files, expected 2: %v", len(files), files)
	}
	for _, f := range files {
		rel, _ := filepath.Rel(dir, f)
		if rel != "keep.txt" && rel != filepath.Join("sub", "also.txt") {
			t.Errorf("unexpected file %s", rel)
		}
	}
}

func TestCopyNormalized(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dos.txt")
	dst := filepath.Join(dir, "out.txt")
	writeFile(t, src, "a\r\nb\r\n")
	if err := CopyNormalized(src, dst); err != nil {
		t.Fatalf("received %s", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "a\nb\n" {
		t.Errorf("Received %q, expected %q", data, "a\nb\n")
	}
}
