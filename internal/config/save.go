package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Digital-Pathology/ModelManager/internal/log"
)

// defaultTemplate is written when no config file exists yet. Keys mirror
// the mapstructure tags on Config.
const defaultTemplate = `# Model registry configuration.

# Directory holding artifact files. Created on first use.
root: models

# File extensions for the paired files. Artifact names must not contain
# the extension separator '.'.
payload_ext: .model
metadata_ext: .model_info

# Metadata layout: "files" (one <name>.model_info per artifact) or
# "aggregate" (a single JSON object keyed by artifact name).
strategy: files
aggregate_file: registry.json

# Sentinel prefix marking a metadata value as a factory token.
factory_prefix: factory://

# Watch the root directory and drop cached metadata when another process
# writes to it.
auto_refresh: true
auto_refresh_debounce: 1s

# Structured log file. Empty disables logging.
log_file: ""

tracing:
  enabled: false
  # "none", "file", "stdout", or "otlp"
  exporter: file
  file_path: ""
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: model-registry
`

// WriteDefaultConfig writes the commented default configuration to path,
// creating parent directories. Refuses to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := writeAtomic(path, []byte(defaultTemplate)); err != nil {
		return err
	}
	log.Info(log.CatConfig, "default config written", "path", path)
	return nil
}

// Save persists cfg to path as YAML, atomically.
func Save(path string, cfg Config) error {
	out := map[string]any{
		"root":                  cfg.Root,
		"payload_ext":           cfg.PayloadExt,
		"metadata_ext":          cfg.MetadataExt,
		"strategy":              cfg.Strategy,
		"aggregate_file":        cfg.AggregateFile,
		"factory_prefix":        cfg.FactoryPrefix,
		"auto_refresh":          cfg.AutoRefresh,
		"auto_refresh_debounce": cfg.AutoRefreshDebounce.String(),
		"log_file":              cfg.LogFile,
		"tracing": map[string]any{
			"enabled":       cfg.Tracing.Enabled,
			"exporter":      cfg.Tracing.Exporter,
			"file_path":     cfg.Tracing.FilePath,
			"otlp_endpoint": cfg.Tracing.OTLPEndpoint,
			"sample_rate":   cfg.Tracing.SampleRate,
			"service_name":  cfg.Tracing.ServiceName,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes to a temp file in the destination directory and
// renames it over the target.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
