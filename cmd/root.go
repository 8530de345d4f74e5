package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/log"
)

const localConfigPath = ".datasources/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "datasources",
	Short: "Readiness-gated data-source capability coordinator",
	Long: `datasources binds data-source providers, a naming context and a
configuration source, initializes the configured data sources exactly once
when everything required is present, and serves them over an HTTP API.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.datasources/config.yaml, then ~/.config/datasources/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging")
}

// resolveConfigPath returns the config file to load.
// Lookup order:
// 1. --config flag
// 2. .datasources/config.yaml (current directory)
// 3. ~/.config/datasources/config.yaml (user config)
// An empty result means no config file exists.
func resolveConfigPath(explicit, userDir string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath
	}
	if userDir != "" {
		p := filepath.Join(userDir, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func initConfig() {
	path := resolveConfigPath(cfgFile, config.DefaultConfigDir())
	if path == "" {
		// No config file found anywhere - create default at .datasources/config.yaml
		if err := config.WriteDefaultConfig(localConfigPath); err != nil {
			log.ErrorErr(log.CatConfig, "Continuing with built-in defaults", err)
			return
		}
		path = localConfigPath
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.ErrorErr(log.CatConfig, "Failed to read config", err, "path", path)
		}
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
