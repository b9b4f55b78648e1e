package treediff

import (
	"os"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// patchContext is the number of context lines in emitted hunks.
const patchContext = 3

// contentPatch renders a unified diff between the two files, or "" for
// binary or unreadable content.
func contentPatch(a, b, rel string) string {
	da, err := os.ReadFile(a)
	if err != nil {
		return ""
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return ""
	}
	if !utf8.Valid(da) || !utf8.Valid(db) {
		return ""
	}
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(da)),
		B:        difflib.SplitLines(string(db)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  patchContext,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return ""
	}
	return s
}
