// Package manifest reads dist manifests and resolves their declared
// targets. A manifest maps target names to {source, destination} pairs.
// Destinations may embed {TOKEN} placeholders resolved against the
// environment (with built-in fallbacks), and sources may contain a single
// '*' wildcard that expands one declaration into several targets.
//
// Two on-disk formats are accepted: dist.toml and the older dist.json.
package manifest

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

const (
	// FileTOML and FileJSON are the manifest file names searched for, in
	// that order.
	FileTOML = "dist.toml"
	FileJSON = "dist.json"

	// SchemaVersion is the newest manifest schema this package reads.
	SchemaVersion = 1
)

var (
	// ErrNotFound indicates no manifest file exists in the directory.
	ErrNotFound = errors.New("dist file not found")

	// ErrSchemaTooNew indicates the manifest declares a schema version
	// newer than this package supports.
	ErrSchemaTooNew = errors.New("dist file newer than supported schema")
)

// Target is one declared distribution mapping.
type Target struct {
	Source      string            `toml:"source" json:"source"`
	Destination string            `toml:"destination" json:"destination"`
	Options     map[string]string `toml:"options" json:"options"`
}

// Manifest is a parsed dist file.
type Manifest struct {
	Author  string            `toml:"author" json:"author"`
	Version int               `toml:"version" json:"version"`
	Targets map[string]Target `toml:"targets" json:"targets"`

	// Dir is the project directory the manifest was loaded from. Target
	// sources are relative to it.
	Dir string `toml:"-" json:"-"`
}

// Load reads the manifest in dir, preferring dist.toml over dist.json.
func Load(dir string) (*Manifest, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}
	var m *Manifest
	if path := filepath.Join(dir, FileTOML); exists(path) {
		m, err = loadTOML(path)
	} else if path := filepath.Join(dir, FileJSON); exists(path) {
		m, err = loadJSON(path)
	} else {
		return nil, errors.Wrap(ErrNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	if m.Version > SchemaVersion {
		return nil, errors.Wrapf(ErrSchemaTooNew, "version %d (supported %d)", m.Version, SchemaVersion)
	}
	if m.Version < SchemaVersion {
		log.Printf("warning: %s uses older dist file version %d", dir, m.Version)
	}
	m.Dir = dir
	return m, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadTOML(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &m, nil
}

func loadJSON(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	root, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	m := &Manifest{Targets: make(map[string]Target)}
	m.Author, _ = root.GetString("author")
	if v, err := root.GetInt64("version"); err == nil {
		m.Version = int(v)
	} else if s, err := root.GetString("version"); err == nil {
		// older manifests quote the version number
		n, _ := strconv.Atoi(s)
		m.Version = n
	}
	targets, err := root.GetObject("targets")
	if err != nil {
		return nil, errors.Errorf("%s: missing targets", path)
	}
	for name, value := range targets.Map() {
		obj, err := value.Object()
		if err != nil {
			return nil, errors.Errorf("%s: target %s is not an object", path, name)
		}
		var t Target
		t.Source, _ = obj.GetString("source")
		t.Destination, _ = obj.GetString("destination")
		m.Targets[name] = t
	}
	return m, nil
}

// DefaultEnv returns the built-in token fallbacks used when a {TOKEN} has
// no environment variable: the deploy environment name, the home
// directory, and the platform-specific deploy root.
func DefaultEnv() map[string]string {
	home, _ := os.UserHomeDir()
	var root string
	switch runtime.GOOS {
	case "darwin":
		root = "{HOME}/Library/Application Support/pipe"
	case "linux":
		root = "{HOME}/.local/pipe"
	case "windows":
		root = "C:/ProgramData/pipe"
	default:
		root = "./pipe/{ENV}"
	}
	return map[string]string{
		"ENV":         "prod",
		"HOME":        home,
		"ROOT":        root,
		"DEPLOY_ROOT": "{ROOT}/{ENV}",
		"CACHE_ROOT":  "{ROOT}/cache/{ENV}",
	}
}

// ExpandVars replaces every {TOKEN} in s with the environment variable of
// that name, falling back to the DefaultEnv table. Replacement values may
// themselves contain tokens. Unresolvable tokens are an error.
func ExpandVars(s string) (string, error) {
	defaults := DefaultEnv()
	for i := 0; ; i++ {
		open := strings.Index(s, "{")
		if open < 0 {
			return s, nil
		}
		end := strings.Index(s, "}")
		if end <= open {
			return s, nil
		}
		if i > 32 {
			return "", errors.Errorf("token expansion loop in %q", s)
		}
		token := strings.ToUpper(s[open+1 : end])
		val := os.Getenv(token)
		if val == "" {
			val = defaults[token]
		}
		if val == "" {
			return "", errors.Errorf("cannot resolve env var '%s'", token)
		}
		s = s[:open] + val + s[end+1:]
	}
}
