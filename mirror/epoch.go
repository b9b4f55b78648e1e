package mirror

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/rsgalloway/distman/fileutil"
)

const (
	// MetaDir is the hidden bookkeeping directory under a tree root.
	MetaDir = ".distman"

	epochFile     = "epoch"
	lastCheckFile = "last_check"
)

// ReadEpoch returns the staleness token of the tree at root, or "" when
// none has been recorded. The token is opaque: it is compared for
// equality and copied verbatim, never interpreted.
func ReadEpoch(root string) string {
	data, err := os.ReadFile(filepath.Join(root, MetaDir, epochFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteEpoch records the staleness token for the tree at root.
func WriteEpoch(root, epoch string) error {
	dir := filepath.Join(root, MetaDir)
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, epochFile), []byte(epoch+"\n"), 0644)
}

// StaleEpochs reports whether a cache with dstEpoch is stale relative to
// a source with srcEpoch. Equal tokens mean fresh; unequal or missing
// tokens mean stale.
func StaleEpochs(srcEpoch, dstEpoch string) bool {
	if srcEpoch == "" || dstEpoch == "" {
		return true
	}
	return srcEpoch != dstEpoch
}

// TTLExpired reports whether enough time has passed since the last
// recorded staleness check of the cache at root. A zero or negative ttl
// disables the gate (always expired). A missing or unreadable timestamp
// counts as expired.
func TTLExpired(root string, ttl time.Duration, clk clock.Clock) bool {
	if ttl <= 0 {
		return true
	}
	data, err := os.ReadFile(filepath.Join(root, MetaDir, lastCheckFile))
	if err != nil {
		return true
	}
	last, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true
	}
	return clk.Now().Unix()-last >= int64(ttl/time.Second)
}

// MarkChecked records the current time as the cache's last staleness
// check.
func MarkChecked(root string, clk clock.Clock) error {
	dir := filepath.Join(root, MetaDir)
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	stamp := strconv.FormatInt(clk.Now().Unix(), 10)
	return os.WriteFile(filepath.Join(dir, lastCheckFile), []byte(stamp+"\n"), 0644)
}
