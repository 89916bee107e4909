package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Digital-Pathology/ModelManager/internal/metadata"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "models", cfg.Root)
	assert.Equal(t, ".model", cfg.PayloadExt)
	assert.Equal(t, ".model_info", cfg.MetadataExt)
	assert.Equal(t, string(metadata.StrategyFiles), cfg.Strategy)
	assert.Equal(t, "factory://", cfg.FactoryPrefix)
	assert.True(t, cfg.AutoRefresh)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Root = "" }},
		{"payload ext without dot", func(c *Config) { c.PayloadExt = "model" }},
		{"metadata ext without dot", func(c *Config) { c.MetadataExt = "model_info" }},
		{"identical extensions", func(c *Config) { c.MetadataExt = c.PayloadExt }},
		{"unknown strategy", func(c *Config) { c.Strategy = "sqlite" }},
		{"aggregate without filename", func(c *Config) {
			c.Strategy = string(metadata.StrategyAggregate)
			c.AggregateFile = ""
		}},
		{"empty factory prefix", func(c *Config) { c.FactoryPrefix = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOptions_Mapping(t *testing.T) {
	cfg := Defaults()
	cfg.Root = "/data/models"
	cfg.Strategy = string(metadata.StrategyAggregate)
	cfg.AutoRefreshDebounce = 2 * time.Second

	opts := cfg.Options()
	assert.Equal(t, "/data/models", opts.Root)
	assert.Equal(t, metadata.StrategyAggregate, opts.Strategy)
	assert.Equal(t, 2*time.Second, opts.AutoRefreshDebounce)
	assert.Equal(t, cfg.PayloadExt, opts.PayloadExt)
	assert.Equal(t, cfg.MetadataExt, opts.MetadataExt)
	assert.Equal(t, cfg.AggregateFile, opts.AggregateFile)
	assert.Equal(t, cfg.AutoRefresh, opts.AutoRefresh)
}
