// Package prune reclaims unreferenced version objects from a cache tree.
// It is a two-phase mark and sweep: the mark walks the cache recording
// every version object reachable from a pointer symlink outside any
// versions/ subtree, and the sweep deletes the direct children of each
// versions/ directory that are not in that set.
//
// The caller must not run a prune concurrently with a mirror of the same
// cache root; the reachability scan assumes a quiescent tree.
package prune

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
)

// ErrNoCache indicates the cache root does not exist.
var ErrNoCache = errors.New("cache does not exist")

// Prune removes version objects in the cache at root that no pointer
// references, returning the number of objects removed (or, in dry-run
// mode, the number that would be). Each would-be removal in dry-run mode
// is reported through report, which may be nil.
func Prune(root string, dryrun bool, report func(rel string)) (int, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(abs); err != nil {
		return 0, errors.Wrap(ErrNoCache, abs)
	}
	if err := fileutil.CheckRoot(abs); err != nil {
		return 0, err
	}
	reachable := mark(abs)
	return sweep(abs, reachable, dryrun, report)
}

// mark returns the set of version object paths reachable from pointer
// symlinks outside any versions/ subtree. References resolving outside
// the cache root are ignored rather than trusted.
func mark(root string) map[string]bool {
	reachable := make(map[string]bool)
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Println("mark:", err)
			raven.CaptureError(err, nil)
			return nil
		}
		if info.IsDir() && info.Name() == "versions" {
			return filepath.SkipDir
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		text, err := fileutil.ReadLink(path)
		if err != nil {
			return nil
		}
		if !strings.HasPrefix(text, "versions/") {
			return nil
		}
		target := filepath.Join(filepath.Dir(path), filepath.FromSlash(text))
		target, err = filepath.Abs(target)
		if err != nil {
			return nil
		}
		// containment check: anything escaping the cache root is not ours
		rel, err := filepath.Rel(root, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		reachable[target] = true
		return nil
	})
	return reachable
}

// sweep deletes unreachable direct children of every versions/ directory
// under root. Children are never examined recursively: a nested
// versions/ directory inside a version object is part of that object,
// not a second root.
func sweep(root string, reachable map[string]bool, dryrun bool, report func(rel string)) (int, error) {
	var vdirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && info.Name() == "versions" {
			vdirs = append(vdirs, path)
			return filepath.SkipDir
		}
		return nil
	})
	sort.Strings(vdirs)

	removed := 0
	for _, vdir := range vdirs {
		entries, err := os.ReadDir(vdir)
		if err != nil {
			log.Println("sweep:", err)
			continue
		}
		for _, e := range entries {
			child := filepath.Join(vdir, e.Name())
			if reachable[child] {
				continue
			}
			rel, err := filepath.Rel(root, child)
			if err != nil {
				rel = child
			}
			if dryrun {
				if report != nil {
					report(rel)
				}
				removed++
				continue
			}
			if err := fileutil.RemoveObject(child); err != nil {
				log.Println("sweep:", err)
				raven.CaptureError(err, nil)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// DeleteCache removes the entire cache tree at root. The dangerous-root
// guard applies: filesystem roots and very short paths are refused.
func DeleteCache(root string, dryrun bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return errors.Wrap(ErrNoCache, abs)
	}
	if err := fileutil.CheckRoot(abs); err != nil {
		return err
	}
	if dryrun {
		return nil
	}
	return os.RemoveAll(abs)
}
