// Package config loads the identifier's settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/cpe-identifier/internal/analyzer"
	"github.com/StinkyLord/cpe-identifier/internal/index"
)

// DefaultFile is read when no --config flag is given. Its absence is not
// an error.
const DefaultFile = "cpe-identifier.yaml"

// Config holds every tunable setting.
type Config struct {
	// Catalog is the catalog snapshot: a SQLite database or a YAML/JSON
	// list of CPE entries.
	Catalog string `yaml:"catalog"`
	// SkipEcosystems are dependency ecosystems that are not analyzed.
	SkipEcosystems []string `yaml:"skip_ecosystems"`
	MinScore       float64  `yaml:"min_score"`
	// EnforceMinScore turns on search-score filtering. It is disabled by
	// default and MinScore is then ignored.
	EnforceMinScore  bool     `yaml:"enforce_min_score"`
	MaxResults       int      `yaml:"max_results"`
	Workers          int      `yaml:"workers"`
	SuppressionFiles []string `yaml:"suppression_files"`
	InfoURL          string   `yaml:"info_url"`
	InfoURLBroad     string   `yaml:"info_url_broad"`
	DownloadRetries  uint64   `yaml:"download_retries"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MinScore:        analyzer.DefaultMinScore,
		MaxResults:      index.DefaultMaxResults,
		Workers:         runtime.GOMAXPROCS(0),
		InfoURL:         analyzer.DefaultInfoURL,
		InfoURLBroad:    analyzer.DefaultInfoURLBroad,
		DownloadRetries: 2,
	}
}

// Load reads path over the defaults. An empty path means DefaultFile,
// which may be missing.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the analyzer cannot run with.
func (c Config) Validate() error {
	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive, got %d", c.MaxResults)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min_score must not be negative, got %g", c.MinScore)
	}
	return nil
}

// Analyzer returns the analyzer settings.
func (c Config) Analyzer() analyzer.Config {
	return analyzer.Config{
		SkipEcosystems:  c.SkipEcosystems,
		MaxResults:      c.MaxResults,
		MinScore:        c.MinScore,
		EnforceMinScore: c.EnforceMinScore,
		InfoURL:         c.InfoURL,
		InfoURLBroad:    c.InfoURLBroad,
	}
}
