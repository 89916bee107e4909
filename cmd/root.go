// Package cmd implements the registry command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Digital-Pathology/ModelManager/internal/config"
	"github.com/Digital-Pathology/ModelManager/internal/factory"
	"github.com/Digital-Pathology/ModelManager/internal/log"
	"github.com/Digital-Pathology/ModelManager/internal/payload"
	"github.com/Digital-Pathology/ModelManager/internal/registry"
	"github.com/Digital-Pathology/ModelManager/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "modelregistry",
	Short:   "A paired-file persistence registry for named artifacts",
	Long: `modelregistry stores named artifacts as two co-located files: an opaque
serialized payload and a human-readable JSON metadata record. It keeps the
pair consistent, refuses accidental overwrites, and detects structural
corruption in the storage directory.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/modelregistry/config.yaml)")
	rootCmd.PersistentFlags().StringP("root", "r", "",
		"registry root directory")

	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(initCmd)
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("root", defaults.Root)
	viper.SetDefault("payload_ext", defaults.PayloadExt)
	viper.SetDefault("metadata_ext", defaults.MetadataExt)
	viper.SetDefault("strategy", defaults.Strategy)
	viper.SetDefault("aggregate_file", defaults.AggregateFile)
	viper.SetDefault("factory_prefix", defaults.FactoryPrefix)
	viper.SetDefault("auto_refresh", defaults.AutoRefresh)
	viper.SetDefault("auto_refresh_debounce", defaults.AutoRefreshDebounce)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .modelregistry/config.yaml (current directory)
		// 2. ~/.config/modelregistry/config.yaml (user config)
		if _, err := os.Stat(".modelregistry/config.yaml"); err == nil {
			viper.SetConfigFile(".modelregistry/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "modelregistry"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine - run on defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// openRegistry builds a registry from the effective configuration. The
// returned cleanup closes the registry and flushes tracing; call it on
// every exit path.
func openRegistry() (*registry.Registry, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cleanups []func()

	if cfg.LogFile != "" || os.Getenv("MODELREGISTRY_DEBUG") != "" {
		path := cfg.LogFile
		if path == "" {
			path = "modelregistry.log"
		}
		if closeLog, err := log.Init(path); err == nil {
			cleanups = append(cleanups, closeLog)
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring tracing: %w", err)
	}
	cleanups = append(cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	})

	factories := factory.NewRegistry(cfg.FactoryPrefix)

	reg, err := registry.Open(cfg.Options(), payload.Raw{}, factories)
	if err != nil {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}

	cleanup := func() {
		_ = reg.Close()
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return reg, cleanup, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = ".modelregistry/config.yaml"
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}
