package main

// The distcache tool maintains a local cache of a deploy tree: it
// mirrors the latest referenced versions, prunes unreferenced ones, and
// reports drift between the two trees.

import (
	"flag"
	"fmt"
	"os"

	"github.com/rsgalloway/distman/manifest"
	"github.com/rsgalloway/distman/mirror"
	"github.com/rsgalloway/distman/prune"
	"github.com/rsgalloway/distman/treediff"
)

var (
	src     = flag.String("src", "{DEPLOY_ROOT}", "source deploy tree")
	dst     = flag.String("dst", "{CACHE_ROOT}", "destination cache tree")
	workers = flag.Int("workers", 0, "copy workers (0 = 4x CPU, capped at 32)")
	doPrune = flag.Bool("prune", false, "remove unreferenced version objects from the cache")
	doDel   = flag.Bool("delete", false, "delete the entire cache")
	doDiff  = flag.Bool("diff", false, "show differences only, copy nothing")
	content = flag.Bool("content", false, "include unified diffs of changed files with -diff")
	ttl     = flag.Duration("ttl", 0, "suppress staleness checks made within this window (0 = always check)")
	force   = flag.Bool("f", false, "mirror even if the cache appears fresh")
	dryrun  = flag.Bool("d", false, "report what would happen, change nothing")
	usage   = `
distcache [flags]

Mirrors the deploy tree at -src into the cache at -dst, copying only
the version objects referenced by a pointer. With -d and no other mode
it reports staleness without copying, exiting 10 when the cache is
stale.
`
)

// staleExit is the exit code for a stale cache in check mode.
const staleExit = 10

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	srcRoot, err := manifest.ExpandVars(*src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dstRoot, err := manifest.ExpandVars(*dst)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch {
	case *doDel:
		os.Exit(doDelete(dstRoot))
	case *doPrune:
		os.Exit(doPruneCache(dstRoot))
	case *doDiff:
		os.Exit(doDiffTrees(srcRoot, dstRoot))
	}

	m := &mirror.Mirror{
		Src:     srcRoot,
		Dst:     dstRoot,
		Workers: *workers,
		Force:   *force,
		TTL:     *ttl,
	}

	if *dryrun {
		os.Exit(doCheck(m))
	}

	stats, err := m.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("copied %d, skipped %d, links %d, errors %d\n",
		stats.Copied, stats.Skipped, stats.Links, stats.Errors)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}

// doCheck reports staleness without copying anything. The TTL gate does
// not apply to an explicit check.
func doCheck(m *mirror.Mirror) int {
	srcEpoch := mirror.ReadEpoch(m.Src)
	dstEpoch := mirror.ReadEpoch(m.Dst)
	if mirror.StaleEpochs(srcEpoch, dstEpoch) {
		fmt.Printf("cache is stale (deploy epoch %q, cache epoch %q)\n", srcEpoch, dstEpoch)
		return staleExit
	}
	fmt.Println("cache is up to date")
	return 0
}

func doDelete(root string) int {
	// the dangerous-root guard applies to dry runs too
	if err := prune.DeleteCache(root, *dryrun); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *dryrun {
		fmt.Printf("would delete cache %s\n", root)
	} else {
		fmt.Println("deleted cache", root)
	}
	return 0
}

func doPruneCache(root string) int {
	n, err := prune.Prune(root, *dryrun, func(rel string) {
		fmt.Println("would remove", rel)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *dryrun {
		fmt.Printf("%d unreferenced versions\n", n)
	} else {
		fmt.Printf("pruned %d unreferenced versions\n", n)
	}
	return 0
}

func doDiffTrees(srcRoot, dstRoot string) int {
	d := &treediff.Differ{ShowContent: *content}
	report, err := d.Diff(srcRoot, dstRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Print(report.String())
	fmt.Printf("%d differences\n", report.Count())
	return 0
}
