package main

// The distman tool reads a dist.toml (or dist.json) manifest and
// publishes the targets it names into the versioned deploy tree.

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rsgalloway/distman/dist"
	"github.com/rsgalloway/distman/manifest"
	"github.com/rsgalloway/distman/vcs"
)

var (
	target  = flag.String("target", "", "limit the run to one target from the dist file")
	show    = flag.Bool("show", false, "show distributed versions, change nothing")
	commit  = flag.String("commit", "", "repoint target at the version built from commit HASH")
	number  = flag.Int("number", -1, "repoint target at version NUMBER")
	offset  = flag.Int("offset", 0, "repoint target at a negative offset from the newest version")
	reset   = flag.Bool("reset", false, "repoint target at its newest version")
	remove  = flag.Bool("delete", false, "delete target from the deploy tree")
	force   = flag.Bool("force", false, "publish even with uncommitted or stale sources")
	yes     = flag.Bool("yes", false, "answer yes to all questions")
	dryrun  = flag.Bool("dryrun", false, "report what would happen, change nothing")
	verbose = flag.Bool("verbose", false, "display more information")
	rev     = flag.String("rev", os.Getenv("DIST_REV"), "revision hash of the working tree ($DIST_REV)")
	branch  = flag.String("branch", os.Getenv("DIST_BRANCH"), "branch being published ($DIST_BRANCH)")
	dirty   = flag.Bool("dirty", os.Getenv("DIST_DIRTY") != "", "working tree has uncommitted changes ($DIST_DIRTY)")
	behind  = flag.Bool("behind", os.Getenv("DIST_BEHIND") != "", "local history is behind the remote ($DIST_BEHIND)")
	usage   = `
distman [flags] [location]

Publishes the targets named in the dist file at location (default ".")
into their versioned destinations. With no mode flag every target is
published; -show, -reset, -number, -commit, -offset and -delete select
other modes, scoped by -target.

Revision facts are supplied out of band, typically by a wrapper script
that queries the repository: -rev/-branch annotate published versions,
and -dirty/-behind trip the publish preconditions unless -force is set.
`
)

const (
	minHashLen   = 4
	shortHashLen = 8
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	location := "."
	if flag.NArg() > 0 {
		location = flag.Arg(0)
	}

	if nmodes := count(*commit != "", *number >= 0, *offset != 0, *reset); nmodes > 1 {
		fmt.Fprintln(os.Stderr, "-commit, -number, -offset and -reset are mutually exclusive")
		os.Exit(2)
	}

	m, err := manifest.Load(location)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	targets, err := m.Resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	targets = filterTargets(targets, *target)
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "no matching targets in dist file")
		os.Exit(1)
	}

	s := &dist.Store{
		Source: revisionSource(*rev, *branch, *dirty, *behind),
		Author: m.Author,
		Force:  *force,
		DryRun: *dryrun,
	}

	var ok bool
	switch {
	case *show:
		ok = doShow(targets)
	case *remove:
		ok = doDelete(s, targets)
	case *reset:
		ok = doReset(s, targets)
	case *number >= 0, *commit != "", *offset != 0:
		ok = doSelect(s, targets)
	default:
		ok = doDist(m, s, targets)
	}
	if !ok {
		os.Exit(1)
	}
}

// revisionSource maps the out-of-band revision flags onto a vcs.Source.
// With no facts supplied, publishes proceed unversioned and unchecked.
func revisionSource(rev, branch string, dirty, behind bool) vcs.Source {
	if rev == "" && branch == "" && !dirty && !behind {
		return vcs.None{}
	}
	short := rev
	if len(short) > shortHashLen {
		short = short[:shortHashLen]
	}
	return vcs.Static{
		Rev:     rev,
		Short:   short,
		Br:      branch,
		Dirty:   dirty,
		IsStale: behind,
	}
}

func count(conds ...bool) int {
	var n int
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}

// filterTargets keeps the targets matching name. Wildcard targets
// resolve to "name:capture", so a bare name also selects all of its
// expansions.
func filterTargets(list []manifest.Resolved, name string) []manifest.Resolved {
	if name == "" {
		return list
	}
	var out []manifest.Resolved
	for _, r := range list {
		if r.Name == name || strings.HasPrefix(r.Name, name+":") {
			out = append(out, r)
		}
	}
	return out
}

func doDist(m *manifest.Manifest, s *dist.Store, targets []manifest.Resolved) bool {
	ok := true
	for _, r := range targets {
		src, err := m.SourcePath(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		if *verbose {
			fmt.Printf("%s: %s -> %s\n", r.Name, src, r.Destination)
		}
		res, v, err := s.Publish(r.Name, src, r.Destination)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		switch res {
		case dist.Unchanged:
			fmt.Printf("%s: unchanged (%s)\n", r.Name, v.Name())
		default:
			fmt.Printf("%s: %s -> %s\n", r.Name, res, v.Name())
		}
	}
	return ok
}

func doShow(targets []manifest.Resolved) bool {
	ok := true
	for _, r := range targets {
		fmt.Println("Target:", r.Name)
		cur, err := dist.Current(r.Destination)
		if err != nil {
			fmt.Println("  no current version")
		} else {
			fmt.Println("  current ->", cur.Name())
		}
		if info, err := dist.ReadInfo(r.Destination); err == nil {
			fmt.Printf("  author: %s  source: %s\n", info.Author, info.Source)
		}
		list, err := dist.Versions(r.Destination)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
		sort.Slice(list, func(i, j int) bool { return list[i].Num > list[j].Num })
		for _, v := range list {
			mark := " "
			if v.Path == cur.Path {
				mark = "*"
			}
			mtime := ""
			if fi, err := os.Lstat(v.Path); err == nil {
				mtime = fi.ModTime().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %s %s\t%s\n", mark, v.Name(), mtime)
		}
		w.Flush()
	}
	return ok
}

// doDelete removes targets. With -number or -commit only the selected
// version is removed; otherwise the pointer, sidecar and full history go.
func doDelete(s *dist.Store, targets []manifest.Resolved) bool {
	var sel *dist.Selector
	what := "and all its versions"
	if *number >= 0 {
		sel = &dist.Selector{Num: *number, ByNum: true}
		what = fmt.Sprintf("version %d", *number)
	} else if *commit != "" {
		sel = &dist.Selector{Rev: *commit}
		what = "version at " + *commit
	}
	ok := true
	for _, r := range targets {
		if !confirm(fmt.Sprintf("Delete target %s %s?", r.Name, what)) {
			continue
		}
		// dry runs still go through the core so safety refusals surface
		if err := s.Delete(r.Destination, sel); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		if *dryrun {
			fmt.Printf("%s: would delete %s\n", r.Name, what)
		} else {
			fmt.Printf("%s: deleted %s\n", r.Name, what)
		}
	}
	return ok
}

func doReset(s *dist.Store, targets []manifest.Resolved) bool {
	ok := true
	for _, r := range targets {
		v, err := s.Reset(r.Destination)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		if *dryrun {
			fmt.Printf("%s: would reset -> %s\n", r.Name, v.Name())
		} else {
			fmt.Printf("%s: reset -> %s\n", r.Name, v.Name())
		}
	}
	return ok
}

func doSelect(s *dist.Store, targets []manifest.Resolved) bool {
	if *target == "" {
		fmt.Fprintln(os.Stderr, "no target specified to change version")
		os.Exit(2)
	}
	if *commit != "" && len(*commit) < minHashLen {
		fmt.Fprintf(os.Stderr, "hashes must be at least %d characters\n", minHashLen)
		os.Exit(2)
	}
	sel := dist.Selector{Rev: *commit, Offset: *offset}
	if *number >= 0 {
		sel.ByNum = true
		sel.Num = *number
	}
	ok := true
	for _, r := range targets {
		v, err := s.Select(r.Destination, sel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Name, err)
			ok = false
			continue
		}
		if *dryrun {
			fmt.Printf("%s: would repoint -> %s\n", r.Name, v.Name())
		} else {
			fmt.Printf("%s: current -> %s\n", r.Name, v.Name())
		}
	}
	return ok
}

// confirm prompts on stdout and reads one line from stdin. The -yes
// flag answers every prompt.
func confirm(prompt string) bool {
	if *yes {
		return true
	}
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
