package dist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
	"github.com/rsgalloway/distman/vcs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %s", path, err)
	}
}

func newStore() *Store {
	return &Store{Source: vcs.Static{Short: "abcd1234"}, Author: "tester"}
}

func TestPublishSequence(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()

	writeFile(t, src, "v0\n")
	res, v, err := s.Publish("tool", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Updated {
		t.Errorf("Received %s, expected Updated", res)
	}
	if v.Num != 0 {
		t.Errorf("Received version %d, expected 0", v.Num)
	}
	if v.Rev != "abcd1234" {
		t.Errorf("Received rev %q, expected abcd1234", v.Rev)
	}

	// changed payload gets the next number
	writeFile(t, src, "v1\n")
	res, v, err = s.Publish("tool", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Updated || v.Num != 1 {
		t.Errorf("Received %s %d, expected Updated 1", res, v.Num)
	}

	// pointer references the new version
	text, err := fileutil.ReadLink(dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if text != "versions/tool.1.abcd1234" {
		t.Errorf("Received link %q", text)
	}

	list, err := Versions(dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if len(list) != 2 {
		t.Fatalf("Received %d versions, expected 2", len(list))
	}
	for i, v := range list {
		if v.Num != i {
			t.Errorf("version %d out of order: %d", i, v.Num)
		}
	}
}

func TestPublishUnchanged(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()

	writeFile(t, src, "same\n")
	if _, _, err := s.Publish("tool", src, dest); err != nil {
		t.Fatalf("received %s", err)
	}
	res, v, err := s.Publish("tool", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Unchanged {
		t.Errorf("Received %s, expected Unchanged", res)
	}
	if v.Num != 0 {
		t.Errorf("Received version %d, expected 0", v.Num)
	}
	list, _ := Versions(dest)
	if len(list) != 1 {
		t.Errorf("Received %d versions, expected 1", len(list))
	}
}

func TestPublishFixesBrokenPointer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()

	writeFile(t, src, "content\n")
	if _, _, err := s.Publish("tool", src, dest); err != nil {
		t.Fatalf("received %s", err)
	}
	if err := os.Remove(dest); err != nil {
		t.Fatalf("received %s", err)
	}
	res, v, err := s.Publish("tool", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Fixed {
		t.Errorf("Received %s, expected Fixed", res)
	}
	if !pointerOK(dest, v) {
		t.Errorf("pointer not repaired")
	}
}

func TestPublishDirectoryPayload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "lib")
	dest := filepath.Join(dir, "deploy", "lib")
	s := newStore()

	writeFile(t, filepath.Join(src, "a.py"), "a\n")
	writeFile(t, filepath.Join(src, "sub", "b.py"), "b\n")
	writeFile(t, filepath.Join(src, ".hidden"), "no\n")

	res, v, err := s.Publish("lib", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Updated {
		t.Fatalf("Received %s, expected Updated", res)
	}
	if _, err := os.Stat(filepath.Join(v.Path, "a.py")); err != nil {
		t.Errorf("a.py not copied: %s", err)
	}
	if _, err := os.Stat(filepath.Join(v.Path, "sub", "b.py")); err != nil {
		t.Errorf("sub/b.py not copied: %s", err)
	}
	if _, err := os.Stat(filepath.Join(v.Path, ".hidden")); err == nil {
		t.Errorf("hidden file copied into version object")
	}
	// hidden files excluded from comparison too, so republish is a no-op
	res, _, err = s.Publish("lib", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Unchanged {
		t.Errorf("Received %s, expected Unchanged", res)
	}
}

func TestPublishPreconditions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	writeFile(t, src, "x\n")

	s := &Store{Source: vcs.Static{Dirty: true}}
	if _, _, err := s.Publish("tool", src, dest); err == nil {
		t.Errorf("expected uncommitted-changes error")
	}
	s = &Store{Source: vcs.Static{IsStale: true}}
	if _, _, err := s.Publish("tool", src, dest); err == nil {
		t.Errorf("expected behind-remote error")
	}
	// force bypasses both preconditions
	s = &Store{Source: vcs.Static{Dirty: true, IsStale: true}, Force: true}
	if _, _, err := s.Publish("tool", src, dest); err != nil {
		t.Errorf("force publish failed: %s", err)
	}
}

func TestPublishDryRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	writeFile(t, src, "x\n")

	s := newStore()
	s.DryRun = true
	res, _, err := s.Publish("tool", src, dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if res != Updated {
		t.Errorf("Received %s, expected Updated", res)
	}
	if _, err := os.Lstat(dest); err == nil {
		t.Errorf("dry run created the pointer")
	}
	list, _ := Versions(dest)
	if len(list) != 0 {
		t.Errorf("dry run created version objects")
	}
}

func publishN(t *testing.T, s *Store, src, dest string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeFile(t, src, "content "+string(rune('a'+i))+"\n")
		if _, _, err := s.Publish("tool", src, dest); err != nil {
			t.Fatalf("publish %d: %s", i, err)
		}
	}
}

func TestSelectByNumber(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 3)

	v, err := s.Select(dest, Selector{Num: 1, ByNum: true})
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if v.Num != 1 {
		t.Errorf("Received version %d, expected 1", v.Num)
	}
	text, _ := fileutil.ReadLink(dest)
	if text != v.LinkText() {
		t.Errorf("pointer %q does not match selected %q", text, v.LinkText())
	}

	if _, err := s.Select(dest, Selector{Num: 99, ByNum: true}); err == nil {
		t.Errorf("expected no-match error")
	}
	// pointer untouched by the failed selection
	text2, _ := fileutil.ReadLink(dest)
	if text2 != text {
		t.Errorf("failed selection moved the pointer")
	}
}

func TestSelectByRevision(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "deploy", "tool")
	src := filepath.Join(dir, "proj", "tool.py")

	writeFile(t, src, "one\n")
	s := &Store{Source: vcs.Static{Short: "deadbeef"}}
	if _, _, err := s.Publish("tool", src, dest); err != nil {
		t.Fatalf("received %s", err)
	}
	writeFile(t, src, "two\n")
	s.Source = vcs.Static{Short: "cafef00d"}
	if _, _, err := s.Publish("tool", src, dest); err != nil {
		t.Fatalf("received %s", err)
	}

	// abbreviated, case-insensitive
	v, err := s.Select(dest, Selector{Rev: "DEAD"})
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if v.Rev != "deadbeef" {
		t.Errorf("Received rev %q, expected deadbeef", v.Rev)
	}
	// longer query than stored hash
	v, err = s.Select(dest, Selector{Rev: "cafef00d99999999"})
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if v.Rev != "cafef00d" {
		t.Errorf("Received rev %q, expected cafef00d", v.Rev)
	}
}

func TestSelectOffset(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 3)

	v, err := s.Select(dest, Selector{Offset: -1})
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if v.Num != 1 {
		t.Errorf("Received version %d, expected 1", v.Num)
	}
	if _, err := s.Select(dest, Selector{Offset: -3}); err == nil {
		t.Errorf("expected out-of-range error")
	}
	if _, err := s.Select(dest, Selector{Offset: 0}); err == nil {
		t.Errorf("expected error for non-negative offset")
	}
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 3)

	if _, err := s.Select(dest, Selector{Num: 0, ByNum: true}); err != nil {
		t.Fatalf("received %s", err)
	}
	v, err := s.Reset(dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if v.Num != 2 {
		t.Errorf("Received version %d, expected 2", v.Num)
	}
	text, _ := fileutil.ReadLink(dest)
	if text != v.LinkText() {
		t.Errorf("pointer %q not reset to newest", text)
	}
}

func TestDeleteActiveVersionRefused(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 2)

	err := s.Delete(dest, &Selector{Num: 1, ByNum: true})
	if err == nil {
		t.Fatalf("expected refusal to delete active version")
	}
	// nothing was removed
	list, _ := Versions(dest)
	if len(list) != 2 {
		t.Errorf("Received %d versions, expected 2", len(list))
	}
	if _, err := os.Lstat(dest); err != nil {
		t.Errorf("pointer removed by refused delete")
	}

	// deleting an inactive version works
	if err := s.Delete(dest, &Selector{Num: 0, ByNum: true}); err != nil {
		t.Fatalf("received %s", err)
	}
	list, _ = Versions(dest)
	if len(list) != 1 || list[0].Num != 1 {
		t.Errorf("expected only version 1 to remain")
	}
}

// A dry run makes the same refusal decisions as a real delete.
func TestDeleteDryRunStillRefusesActive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 2)
	s.DryRun = true

	err := s.Delete(dest, &Selector{Num: 1, ByNum: true})
	if errors.Cause(err) != ErrActiveVersion {
		t.Errorf("Received %v, expected active-version refusal", err)
	}

	// the dry run touches nothing either way
	if err := s.Delete(dest, &Selector{Num: 0, ByNum: true}); err != nil {
		t.Fatalf("received %s", err)
	}
	list, _ := Versions(dest)
	if len(list) != 2 {
		t.Errorf("Received %d versions after dry run, expected 2", len(list))
	}
}

func TestDeleteTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proj", "tool.py")
	dest := filepath.Join(dir, "deploy", "tool")
	s := newStore()
	publishN(t, s, src, dest, 2)

	if err := s.Delete(dest, nil); err != nil {
		t.Fatalf("received %s", err)
	}
	if _, err := os.Lstat(dest); err == nil {
		t.Errorf("pointer still exists")
	}
	if _, err := os.Lstat(infoPath(dest)); err == nil {
		t.Errorf("sidecar still exists")
	}
	list, _ := Versions(dest)
	if len(list) != 0 {
		t.Errorf("Received %d versions, expected 0", len(list))
	}
}

func TestVersionsToleratesGaps(t *testing.T) {
	dir := t.TempDir()
	vdir := filepath.Join(dir, "versions")
	writeFile(t, filepath.Join(vdir, "tool.0.aaaa"), "x")
	writeFile(t, filepath.Join(vdir, "tool.5.bbbb"), "x")
	writeFile(t, filepath.Join(vdir, "tool.2"), "x")
	writeFile(t, filepath.Join(vdir, "other.1"), "x")
	writeFile(t, filepath.Join(vdir, "tool.notanumber"), "x")

	list, err := Versions(filepath.Join(dir, "tool"))
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if len(list) != 3 {
		t.Fatalf("Received %d versions, expected 3", len(list))
	}
	want := []int{0, 2, 5}
	for i, v := range list {
		if v.Num != want[i] {
			t.Errorf("position %d: version %d, expected %d", i, v.Num, want[i])
		}
	}
}

func TestParseVersionName(t *testing.T) {
	var table = []struct {
		name string
		num  int
		rev  string
		ok   bool
	}{
		{"tool.0", 0, "", true},
		{"tool.12.abcd1234", 12, "abcd1234", true},
		{"tool.3.abcd1234-forced", 3, "abcd1234", true},
		{"tool.3.abcd1234.extra", 3, "abcd1234", true},
		{"tool.x", 0, "", false},
		{"other.1", 0, "", false},
		{"tool", 0, "", false},
	}
	for _, tab := range table {
		num, rev, ok := parseVersionName(tab.name, "tool")
		if ok != tab.ok || num != tab.num || rev != tab.rev {
			t.Errorf("parse %q = (%d, %q, %v), expected (%d, %q, %v)",
				tab.name, num, rev, ok, tab.num, tab.rev, tab.ok)
		}
	}
}

func TestHashesEqual(t *testing.T) {
	var table = []struct {
		a, b string
		want bool
	}{
		{"abcd", "abcd1234", true},
		{"ABCD1234", "abcd", true},
		{"abcd", "abce1234", false},
		{"", "abcd", false},
		{"abcd", "", false},
	}
	for _, tab := range table {
		if got := HashesEqual(tab.a, tab.b); got != tab.want {
			t.Errorf("HashesEqual(%q, %q) = %v, expected %v", tab.a, tab.b, got, tab.want)
		}
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "tool")
	info := Info{Name: "tool", Origin: "/proj/tool.py", Source: "tool.py", Author: "someone", Branch: "main"}
	if err := WriteInfo(dest, info); err != nil {
		t.Fatalf("received %s", err)
	}
	got, err := ReadInfo(dest)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	if got != info {
		t.Errorf("Received %+v, expected %+v", got, info)
	}
}
