// Package mirror copies a deploy tree into a local cache tree. The copy
// is latest-only: directories named versions are never traversed, and
// only the version objects actually referenced by a pointer symlink
// encountered during the walk are materialized in the cache.
//
// A run moves through three phases. Planning walks the deploy tree and
// records link and copy tasks plus the set of referenced version
// objects. Resolving expands each referenced object into copy tasks,
// skipping objects the cache already holds. Executing creates links
// first, sequentially, then runs the copy tasks across a bounded worker
// pool; every task is fully enumerated before the pool starts, so
// progress totals are exact.
//
// Staleness is gated twice before any of that: an epoch comparison
// decides whether the trees have drifted at all, and a TTL suppresses
// even that check when one ran recently.
package mirror

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/rsgalloway/distman/fileutil"
	"github.com/rsgalloway/distman/util"
)

// maxWorkers caps the copy pool regardless of CPU count.
const maxWorkers = 32

// ErrNoSource indicates the deploy tree does not exist.
var ErrNoSource = errors.New("source does not exist")

// Stats tallies the outcome of a run. A failed individual copy does not
// abort the run; it is counted here.
type Stats struct {
	Copied  int
	Skipped int
	Errors  int
	Links   int
}

// outcome is the closed result set for one copy task.
type outcome int

const (
	outcomeCopied outcome = iota
	outcomeSkipped
	outcomeFailed
)

type copyTask struct {
	src, dst string
}

type linkTask struct {
	src, dst string
}

// Mirror mirrors Src into Dst. Fields left zero take defaults.
type Mirror struct {
	Src string
	Dst string

	// Workers bounds the concurrent copy pool. Zero scales to the CPU
	// count, capped at maxWorkers.
	Workers int

	// Force refreshes referenced version objects even when the cache
	// already holds them, and bypasses the epoch and TTL gates in Sync.
	Force bool

	// TTL rate-limits staleness checks in Sync. Zero disables the gate.
	TTL time.Duration

	// Ignores filters the walk. Nil selects the default set.
	Ignores fileutil.Patterns

	// Clock is the time source for TTL bookkeeping. Nil uses real time.
	Clock clock.Clock

	// Interrupt, when non-nil, stops submission of new copy tasks when
	// closed. In-flight tasks finish; the destination is never left with
	// a partially written file either way.
	Interrupt <-chan struct{}

	// set during planning
	links      []linkTask
	copies     []copyTask
	referenced map[string]bool
}

func (m *Mirror) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	n := runtime.NumCPU() * 4
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

func (m *Mirror) clock() clock.Clock {
	if m.Clock == nil {
		return clock.New()
	}
	return m.Clock
}

func (m *Mirror) ignores() fileutil.Patterns {
	if m.Ignores == nil {
		return fileutil.DefaultIgnores()
	}
	return m.Ignores
}

// Stale reports whether the cache is stale relative to the source,
// comparing recorded epochs only.
func (m *Mirror) Stale() bool {
	return StaleEpochs(ReadEpoch(m.Src), ReadEpoch(m.Dst))
}

// Fresh reports whether the TTL gate suppresses a staleness check right
// now.
func (m *Mirror) Fresh() bool {
	return !TTLExpired(m.Dst, m.TTL, m.clock())
}

// Sync runs the TTL and epoch gates, mirrors if stale, and records the
// source epoch and check time in the cache afterwards.
func (m *Mirror) Sync() (Stats, error) {
	if !m.Force {
		if m.Fresh() {
			return Stats{}, nil
		}
		if !m.Stale() {
			err := MarkChecked(m.Dst, m.clock())
			return Stats{}, err
		}
	}
	stats, err := m.Run()
	if err != nil {
		return stats, err
	}
	if epoch := ReadEpoch(m.Src); epoch != "" {
		if err := WriteEpoch(m.Dst, epoch); err != nil {
			return stats, err
		}
	}
	return stats, MarkChecked(m.Dst, m.clock())
}

// Run mirrors the source tree into the cache unconditionally.
func (m *Mirror) Run() (Stats, error) {
	var stats Stats
	if _, err := os.Stat(m.Src); err != nil {
		return stats, errors.Wrap(ErrNoSource, m.Src)
	}
	if err := fileutil.EnsureDir(m.Dst); err != nil {
		return stats, err
	}

	m.links = nil
	m.copies = nil
	m.referenced = make(map[string]bool)

	if err := m.plan(); err != nil {
		return stats, err
	}
	if err := m.resolve(); err != nil {
		return stats, err
	}
	m.execute(&stats)
	return stats, nil
}

// plan walks the deploy tree recording link and copy tasks. It never
// descends into a directory literally named versions, and never into
// ignorable paths.
func (m *Mirror) plan() error {
	return filepath.Walk(m.Src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// record and keep walking; a single unreadable entry must
			// not abort the plan
			log.Println("plan:", err)
			raven.CaptureError(err, nil)
			return nil
		}
		if path == m.Src {
			return nil
		}
		name := info.Name()
		if info.IsDir() && name == "versions" {
			return filepath.SkipDir
		}
		if m.ignores().MatchName(name) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(m.Src, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(m.Dst, rel)
		if info.Mode()&os.ModeSymlink != 0 {
			m.links = append(m.links, linkTask{src: path, dst: dst})
			m.noteReference(path)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return fileutil.EnsureDir(dst)
		}
		m.copies = append(m.copies, copyTask{src: path, dst: dst})
		return nil
	})
}

// noteReference records the version object a pointer symlink references,
// if it references one.
func (m *Mirror) noteReference(link string) {
	text, err := fileutil.ReadLink(link)
	if err != nil {
		return
	}
	if !strings.HasPrefix(text, "versions/") {
		return
	}
	abs := filepath.Join(filepath.Dir(link), filepath.FromSlash(text))
	m.referenced[abs] = true
}

// resolve expands each referenced version object into copy tasks. A
// local-first check skips objects the cache already holds without
// touching the possibly remote source filesystem. Version objects may
// reference further version objects through nested symlinks; the
// worklist deduplicates on absolute path so cycles terminate.
func (m *Mirror) resolve() error {
	seen := make(map[string]bool)
	queue := make([]string, 0, len(m.referenced))
	for vo := range m.referenced {
		queue = append(queue, vo)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		vo := queue[0]
		queue = queue[1:]
		if seen[vo] {
			continue
		}
		seen[vo] = true

		rel, err := filepath.Rel(m.Src, vo)
		if err != nil || strings.HasPrefix(rel, "..") {
			// a reference escaping the source tree is ignored, not trusted
			continue
		}
		dst := filepath.Join(m.Dst, rel)

		// local-first short-circuit: if the cache already has the object
		// there is no need for the expensive source stat
		if !m.Force {
			if _, err := os.Lstat(dst); err == nil {
				continue
			}
		}
		fi, err := os.Lstat(vo)
		if err != nil {
			// referenced but absent upstream; nothing to fetch
			continue
		}
		if !fi.IsDir() {
			m.copies = append(m.copies, copyTask{src: vo, dst: dst})
			continue
		}
		err = filepath.Walk(vo, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				log.Println("resolve:", err)
				raven.CaptureError(err, nil)
				return nil
			}
			rel, err := filepath.Rel(vo, path)
			if err != nil {
				return err
			}
			out := filepath.Join(dst, rel)
			if info.Mode()&os.ModeSymlink != 0 {
				m.links = append(m.links, linkTask{src: path, dst: out})
				if text, err := fileutil.ReadLink(path); err == nil && strings.HasPrefix(text, "versions/") {
					queue = append(queue, filepath.Join(filepath.Dir(path), filepath.FromSlash(text)))
				}
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return fileutil.EnsureDir(out)
			}
			m.copies = append(m.copies, copyTask{src: path, dst: out})
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// execute creates links sequentially, then runs the copy tasks across
// the worker pool. Link creation happens first because a destination
// lacking symlink support grows the copy set (dereferenced links), and
// the copy set must be final before the pool starts.
func (m *Mirror) execute(stats *Stats) {
	caps := fileutil.CanSymlink(m.Dst)
	for _, lt := range m.links {
		if caps {
			if err := fileutil.CopyLink(lt.src, lt.dst); err != nil {
				log.Println("link:", err)
				stats.Errors++
				continue
			}
			stats.Links++
			continue
		}
		m.dereference(lt, stats)
	}

	// deduplicate on destination: distinct copy tasks must never target
	// the same path within one run
	tasks := make([]copyTask, 0, len(m.copies))
	bydst := make(map[string]bool, len(m.copies))
	for _, ct := range m.copies {
		if bydst[ct.dst] {
			continue
		}
		bydst[ct.dst] = true
		tasks = append(tasks, ct)
	}

	gate := util.NewGate(m.workers())
	results := make(chan outcome)
	var wg sync.WaitGroup

	go func() {
		for _, ct := range tasks {
			select {
			case <-m.interrupted():
				// stop submitting; in-flight tasks finish on their own
				wg.Wait()
				close(results)
				return
			default:
			}
			wg.Add(1)
			gate.Enter()
			go func(ct copyTask) {
				defer wg.Done()
				defer gate.Leave()
				results <- m.copyOne(ct)
			}(ct)
		}
		wg.Wait()
		close(results)
	}()

	for res := range results {
		switch res {
		case outcomeCopied:
			stats.Copied++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Errors++
		}
	}
}

func (m *Mirror) interrupted() <-chan struct{} {
	if m.Interrupt != nil {
		return m.Interrupt
	}
	// nil channel: never ready
	return nil
}

// copyOne performs one copy task. The destination is written atomically,
// and a destination already matching the source signature is counted as
// skipped without being touched.
func (m *Mirror) copyOne(ct copyTask) outcome {
	if fileutil.SameFile(ct.src, ct.dst) {
		return outcomeSkipped
	}
	if err := fileutil.AtomicCopy(ct.src, ct.dst); err != nil {
		log.Println("copy:", err)
		raven.CaptureError(err, nil)
		return outcomeFailed
	}
	return outcomeCopied
}

// dereference handles a link task on a destination without symlink
// support: the link target's content is copied into the link's path
// instead. The resulting copy tasks join the set before the worker pool
// starts.
func (m *Mirror) dereference(lt linkTask, stats *Stats) {
	text, err := fileutil.ReadLink(lt.src)
	if err != nil {
		log.Println("link:", err)
		stats.Errors++
		return
	}
	target := filepath.Join(filepath.Dir(lt.src), filepath.FromSlash(text))
	fi, err := os.Stat(target)
	if err != nil {
		// dangling link; nothing to materialize
		stats.Links++
		return
	}
	if !fi.IsDir() {
		m.copies = append(m.copies, copyTask{src: target, dst: lt.dst})
		stats.Links++
		return
	}
	err = filepath.Walk(target, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		out := filepath.Join(lt.dst, rel)
		if info.IsDir() {
			return fileutil.EnsureDir(out)
		}
		m.copies = append(m.copies, copyTask{src: path, dst: out})
		return nil
	})
	if err != nil {
		log.Println("link:", err)
		stats.Errors++
		return
	}
	stats.Links++
}
