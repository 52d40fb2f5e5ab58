// Package config loads run configuration from a canopy.yaml file and
// applies defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

// DefaultFileName is looked up in the working directory when no explicit
// path is given.
const DefaultFileName = "canopy.yaml"

// DefaultGatewayURL serves public content when no gateway is configured.
const DefaultGatewayURL = "https://ipfs.io"

// Config is the full run configuration.
type Config struct {
	// Root is the property tree to ingest.
	Root string `yaml:"root" json:"root"`
	// SeedSchemaID identifies seed files inside property directories.
	SeedSchemaID string `yaml:"seed_schema_id" json:"seed_schema_id"`
	// Concurrency caps in-flight file pipelines; 0 defers to the
	// OS-derived cap.
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	BatchSize   int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// BaseDir anchors relative link references; defaults to Root.
	BaseDir          string      `yaml:"base_dir,omitempty" json:"base_dir,omitempty"`
	FactSheetBaseURL string      `yaml:"fact_sheet_base_url,omitempty" json:"fact_sheet_base_url,omitempty"`
	Gateway          Gateway     `yaml:"gateway" json:"gateway"`
	SchemaCache      SchemaCache `yaml:"schema_cache" json:"schema_cache"`
	Storage          Storage     `yaml:"storage" json:"storage"`
}

// Gateway configures the content network the pipeline fetches from.
type Gateway struct {
	URL string `yaml:"url" json:"url"`
}

// SchemaCache bounds the in-memory schema cache and optionally persists
// it across runs.
type SchemaCache struct {
	Capacity int    `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Storage configures the upload target. An empty bucket selects dry-run
// mode: uploads stay in memory.
type Storage struct {
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// Load reads and validates a configuration file. An empty path falls back
// to canopy.yaml in the working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(configDir string) {
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Root != "" && !filepath.IsAbs(c.Root) {
		c.Root = filepath.Join(configDir, c.Root)
	}
	if c.BaseDir == "" {
		c.BaseDir = c.Root
	}
}

// Validate rejects configurations that cannot produce a meaningful run.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root is required")
	}
	if c.SeedSchemaID == "" {
		return fmt.Errorf("config: seed_schema_id is required")
	}
	if !cidlink.IsStructurallyValid(c.SeedSchemaID) {
		return fmt.Errorf("config: seed_schema_id %q is not a valid content identifier", c.SeedSchemaID)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must not be negative")
	}
	if c.Storage.Bucket != "" && c.Storage.Region == "" && c.Storage.Endpoint == "" {
		return fmt.Errorf("config: storage bucket %q needs a region or endpoint", c.Storage.Bucket)
	}
	return nil
}

// DryRun reports whether uploads should stay in memory.
func (c *Config) DryRun() bool {
	return c.Storage.Bucket == ""
}
