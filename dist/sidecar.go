package dist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Info is the provenance recorded beside a pointer in its hidden sidecar
// file. It is informational only: nothing consults it for correctness.
type Info struct {
	Name   string
	Origin string
	Source string
	Author string
	Branch string
}

// infoPath returns the sidecar path for a destination, .<base><ext> in
// the same directory.
func infoPath(dest string) string {
	dir, base := filepath.Split(dest)
	return filepath.Join(dir, "."+base+InfoExt)
}

// WriteInfo writes the sidecar metadata file for dest, one "key: value"
// per line.
func WriteInfo(dest string, info Info) error {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", info.Name)
	fmt.Fprintf(&b, "origin: %s\n", info.Origin)
	fmt.Fprintf(&b, "source: %s\n", info.Source)
	fmt.Fprintf(&b, "author: %s\n", info.Author)
	fmt.Fprintf(&b, "branch: %s\n", info.Branch)
	return os.WriteFile(infoPath(dest), []byte(b.String()), 0644)
}

// ReadInfo reads the sidecar metadata for dest. Unknown keys are ignored.
func ReadInfo(dest string) (Info, error) {
	data, err := os.ReadFile(infoPath(dest))
	if err != nil {
		return Info{}, err
	}
	var info Info
	for _, line := range strings.Split(string(data), "\n") {
		key, val, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "name":
			info.Name = val
		case "origin":
			info.Origin = val
		case "source":
			info.Source = val
		case "author":
			info.Author = val
		case "branch":
			info.Branch = val
		}
	}
	return info, nil
}
