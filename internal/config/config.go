// Package config provides configuration types, defaults, and persistence
// for the registry CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Digital-Pathology/ModelManager/internal/metadata"
	"github.com/Digital-Pathology/ModelManager/internal/registry"
	"github.com/Digital-Pathology/ModelManager/internal/tracing"
)

// Config holds all configuration options for the registry.
type Config struct {
	// Root is the directory holding artifact files.
	Root string `mapstructure:"root"`

	// PayloadExt is the payload file extension.
	PayloadExt string `mapstructure:"payload_ext"`

	// MetadataExt is the metadata file extension (files strategy).
	MetadataExt string `mapstructure:"metadata_ext"`

	// Strategy is the metadata layout: "files" or "aggregate".
	Strategy string `mapstructure:"strategy"`

	// AggregateFile is the mapping filename (aggregate strategy).
	AggregateFile string `mapstructure:"aggregate_file"`

	// FactoryPrefix is the sentinel prefix for factory tokens.
	FactoryPrefix string `mapstructure:"factory_prefix"`

	// AutoRefresh enables the root-directory watcher.
	AutoRefresh bool `mapstructure:"auto_refresh"`

	// AutoRefreshDebounce coalesces watcher events.
	AutoRefreshDebounce time.Duration `mapstructure:"auto_refresh_debounce"`

	// LogFile enables structured logging to the given path.
	LogFile string `mapstructure:"log_file"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		Root:                "models",
		PayloadExt:          registry.DefaultPayloadExt,
		MetadataExt:         registry.DefaultMetadataExt,
		Strategy:            string(metadata.StrategyFiles),
		AggregateFile:       registry.DefaultAggregateFile,
		FactoryPrefix:       "factory://",
		AutoRefresh:         true,
		AutoRefreshDebounce: 1 * time.Second,
		Tracing:             tracing.DefaultConfig(),
	}
}

// Validate rejects configurations the registry cannot honor.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if !strings.HasPrefix(c.PayloadExt, ".") {
		return fmt.Errorf("payload_ext must start with '.': %q", c.PayloadExt)
	}
	if !strings.HasPrefix(c.MetadataExt, ".") {
		return fmt.Errorf("metadata_ext must start with '.': %q", c.MetadataExt)
	}
	if c.PayloadExt == c.MetadataExt {
		return fmt.Errorf("payload_ext and metadata_ext must differ")
	}
	switch metadata.Strategy(c.Strategy) {
	case metadata.StrategyFiles, metadata.StrategyAggregate:
	default:
		return fmt.Errorf("strategy must be %q or %q: %q",
			metadata.StrategyFiles, metadata.StrategyAggregate, c.Strategy)
	}
	if metadata.Strategy(c.Strategy) == metadata.StrategyAggregate && c.AggregateFile == "" {
		return fmt.Errorf("aggregate_file must not be empty with the aggregate strategy")
	}
	if c.FactoryPrefix == "" {
		return fmt.Errorf("factory_prefix must not be empty")
	}
	return nil
}

// Options converts the configuration into registry construction options.
func (c Config) Options() registry.Options {
	return registry.Options{
		Root:                c.Root,
		PayloadExt:          c.PayloadExt,
		MetadataExt:         c.MetadataExt,
		Strategy:            metadata.Strategy(c.Strategy),
		AggregateFile:       c.AggregateFile,
		AutoRefresh:         c.AutoRefresh,
		AutoRefreshDebounce: c.AutoRefreshDebounce,
	}
}
