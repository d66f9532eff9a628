// Package config loads run configuration from either the legacy text
// format or YAML, and reads the node list of the data directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unijord/tracecurve/pkg/curve"
	"github.com/unijord/tracecurve/pkg/ledger"
	"github.com/unijord/tracecurve/pkg/scheduler"
	"github.com/unijord/tracecurve/pkg/tracelog"
)

var (
	// ErrNoDataDir is returned when no data directory is configured.
	ErrNoDataDir = errors.New("data directory is required")
	// ErrNotDir is returned when the data directory is not a directory.
	ErrNotDir = errors.New("data directory is not a directory")
	// ErrBadMaxJobs is returned when the job cap is below one.
	ErrBadMaxJobs = errors.New("max_jobs must be at least 1")
)

// LedgerConfig selects where run history is kept. An empty Path disables
// the ledger.
type LedgerConfig struct {
	Driver ledger.Driver `yaml:"driver"`
	Path   string        `yaml:"path"`
}

// Config is a run configuration.
type Config struct {
	DataDir string             `yaml:"data_dir"`
	MaxJobs int                `yaml:"max_jobs"`
	Reader  tracelog.Mode      `yaml:"reader"`
	Stage   bool               `yaml:"stage"`
	Ledger  LedgerConfig       `yaml:"ledger"`
	Curves  []curve.Definition `yaml:"curves"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() Config {
	return Config{
		MaxJobs: scheduler.DefaultCapacity,
		Reader:  tracelog.ModeBuffered,
		Stage:   true,
		Ledger:  LedgerConfig{Driver: ledger.DriverBolt},
	}
}

// IsYAML reports whether path names a YAML config.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a config file. The format is chosen by extension: .yaml and
// .yml are YAML, anything else is the legacy text format. The result is not
// validated.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	if IsYAML(path) {
		cfg := Default()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg, err := ParseLegacy(f)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks everything that must hold before any job starts and
// reports every problem found.
func (c Config) Validate() error {
	errs := &curve.ValidationErrors{}

	switch fi, err := os.Stat(c.DataDir); {
	case c.DataDir == "":
		errs.Add(ErrNoDataDir)
	case err != nil:
		errs.Add(fmt.Errorf("data_dir: %w", err))
	case !fi.IsDir():
		errs.Add(fmt.Errorf("%w: %s", ErrNotDir, c.DataDir))
	}

	if c.MaxJobs < 1 {
		errs.Add(fmt.Errorf("%w: got %d", ErrBadMaxJobs, c.MaxJobs))
	}
	if _, err := tracelog.ParseMode(string(c.Reader)); err != nil {
		errs.Add(fmt.Errorf("reader: %w", err))
	}
	if c.Ledger.Path != "" {
		if _, err := ledger.ParseDriver(string(c.Ledger.Driver)); err != nil {
			errs.Add(fmt.Errorf("ledger.driver: %w", err))
		}
	}

	if _, err := curve.Compile(c.Curves); err != nil {
		var ve *curve.ValidationErrors
		if errors.As(err, &ve) {
			for _, e := range ve.Errors {
				errs.Add(e)
			}
		} else {
			errs.Add(err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Compile returns the compiled definition set.
func (c Config) Compile() (*curve.Set, error) {
	return curve.Compile(c.Curves)
}

// NodeDir returns the directory of one node.
func (c Config) NodeDir(node string) string {
	return filepath.Join(c.DataDir, node)
}
