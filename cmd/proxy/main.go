package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is the cache generation baked in at build time:
//
//	go build -ldflags "-X main.version=v2" ./cmd/proxy
var version string

const defaultConfigPath = "configs/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Offline caching proxy for a single site",
	Long: `Forward proxy that keeps a site usable offline.

Pages loaded through the proxy are served from versioned cache partitions
or the network, navigations fall back to the cached shell page, and form
submissions queued while offline are replayed once the network is back.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cache version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.DefaultVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	if version != "" {
		config.DefaultVersion = version
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig loads and validates the configuration.
// A missing default config file means built-in defaults; an explicit one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logrus.Debugf("No config file at %s, using defaults", path)
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}

func setupLogging(cfg *config.Config) {
	if level, err := cfg.GetLogLevel(); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
