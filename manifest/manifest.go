// Package manifest handles interpose.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "interpose.toml"

// Object isolation strategies.
const (
	StrategySubclass = "subclass"
	StrategyShadow   = "shadow"
)

// Manifest represents an interpose.toml configuration.
type Manifest struct {
	Logging Logging `toml:"logging"`
	Object  Object  `toml:"object"`
	Waiter  Waiter  `toml:"waiter"`
	Debug   Debug   `toml:"debug"`

	// Dir is the directory containing the interpose.toml file (set at load time).
	Dir string `toml:"-"`
}

// Logging configures diagnostic output.
type Logging struct {
	Enabled bool `toml:"enabled"`
}

// Object configures object-scoped hooks.
type Object struct {
	Strategy       string `toml:"strategy"`
	GenerateSuper  bool   `toml:"generate-super"`
	SubclassPrefix string `toml:"subclass-prefix"`
}

// Waiter configures class availability waiters.
type Waiter struct {
	FatalOnError bool   `toml:"fatal-on-error"`
	ImageDir     string `toml:"image-dir"`
}

// Debug contains development switches.
type Debug struct {
	LockChecking bool `toml:"lock-checking"`
}

// Default returns the configuration used when no file is present.
func Default() *Manifest {
	return &Manifest{
		Object: Object{
			Strategy:       StrategySubclass,
			GenerateSuper:  true,
			SubclassPrefix: "InterposeKit_",
		},
	}
}

// Parse decodes a configuration. Keys missing from data keep their
// defaults; unknown keys are an error. name is used in error messages.
func Parse(data []byte, name string) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", name, strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return m, nil
}

// Load parses an interpose.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an interpose.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values the decoder cannot.
func (m *Manifest) Validate() error {
	switch m.Object.Strategy {
	case StrategySubclass, StrategyShadow:
	default:
		return fmt.Errorf("object.strategy must be %q or %q, got %q",
			StrategySubclass, StrategyShadow, m.Object.Strategy)
	}
	if m.Object.SubclassPrefix == "" {
		return fmt.Errorf("object.subclass-prefix must not be empty")
	}
	return nil
}

// ImageDirPath returns the absolute image directory, or "" if none is set.
func (m *Manifest) ImageDirPath() string {
	if m.Waiter.ImageDir == "" {
		return ""
	}
	if filepath.IsAbs(m.Waiter.ImageDir) || m.Dir == "" {
		return m.Waiter.ImageDir
	}
	return filepath.Join(m.Dir, m.Waiter.ImageDir)
}
