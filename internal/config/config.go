// Package config defines the JSON pipeline configuration for the loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the root configuration document.
type Pipeline struct {
	Job     string        `json:"job"`
	Source  Source        `json:"source"`
	Storage Storage       `json:"storage"`
	Runtime RuntimeConfig `json:"runtime"`
	Views   []string      `json:"views"`
	Datadog DatadogConfig `json:"datadog"`
}

// Source locates the flat CSV export.
type Source struct {
	File FileSource `json:"file"`
}

type FileSource struct {
	Path string `json:"path"`

	// Encoding: "" (UTF-8), "latin1" or "windows-1252".
	Encoding string `json:"encoding"`
}

// Storage selects and configures the backend.
type Storage struct {
	// Kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind"`

	// DSN is environment-expanded, so secrets can stay out of the file:
	// "postgres://loader:${PGPASSWORD}@db/scout".
	DSN string `json:"dsn"`
}

// RuntimeConfig controls execution behavior.
type RuntimeConfig struct {
	LoaderWorkers int `json:"loader_workers"`
	BatchSize     int `json:"batch_size"`
	ChannelBuffer int `json:"channel_buffer"`
}

// DatadogConfig enables the metrics backend when Enabled is true.
// Credentials come from the environment (DD_API_KEY), never from this file.
type DatadogConfig struct {
	Enabled bool   `json:"enabled"`
	Tags    string `json:"tags"`
}

// DefaultViews are the analytic views refreshed after a successful load.
var DefaultViews = []string{
	"mv_hourly_patterns",
	"mv_daily_sales",
	"mv_product_performance",
	"mv_regional_performance",
}

// Load reads, parses and normalizes a pipeline file.
func Load(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &p, nil
}

func (p *Pipeline) applyDefaults() {
	if p.Job == "" {
		p.Job = "scoutload"
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = "postgres"
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	if p.Runtime.LoaderWorkers <= 0 {
		p.Runtime.LoaderWorkers = 1
	}
	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = 1000
	}
	if p.Runtime.ChannelBuffer <= 0 {
		p.Runtime.ChannelBuffer = 1024
	}
	if p.Views == nil {
		p.Views = append([]string(nil), DefaultViews...)
	}
}

func (p *Pipeline) validate() error {
	if p.Source.File.Path == "" {
		return fmt.Errorf("source.file.path is required")
	}
	if p.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	return nil
}
