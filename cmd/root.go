package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/pders01/ctxsnap/internal/app"
	"github.com/pders01/ctxsnap/internal/config"
	"github.com/pders01/ctxsnap/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	rootDir     string
	logLevel    string
	stdout      io.Writer = os.Stdout
	stderr      io.Writer = os.Stderr
	configFound string
)

var rootCmd = &cobra.Command{
	Use:   "ctxsnap",
	Short: "Capture and restore work-context snapshots",
	Long: `ctxsnap records what you were working on (the folder, editor workspace,
three todos, a note, tags and the git state) as a snapshot you can search,
restore and sync between machines.

Documents live as JSON files under the storage root:
  snapshots/<id>.json, index.json, settings.json,
  sync_state.json, sync_conflicts.json, restore_history.json`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ctxsnap/config.toml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "storage root (overrides storage.root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := config.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		configFound = viper.ConfigFileUsed()
	}
	if rootDir != "" {
		viper.Set("storage.root", rootDir)
	}
	if logLevel != "" {
		viper.Set("log.level", logLevel)
	}
}

// openApp opens the store at the configured root. Callers Close it.
func openApp() (*app.App, error) {
	root := config.GetStorageRoot()
	if root == "" {
		return nil, fmt.Errorf("storage root is not configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid storage root %q: %w", root, err)
	}
	return app.New(app.Options{
		Root: abs,
		Log: logging.Options{
			File:       config.GetLogFile(),
			Level:      config.GetLogLevel(),
			MaxSizeMB:  config.GetLogMaxSizeMB(),
			MaxBackups: config.GetLogMaxBackups(),
			Stderr:     stderr,
		},
		SyncTimeout: config.GetSyncTimeout(),
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// emit writes v as JSON or Toon when asked to. It reports whether it wrote
// anything so callers can fall back to the human-readable form.
func emit(v any, asJSON, asToon bool) (bool, error) {
	switch {
	case asJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to encode JSON: %w", err)
		}
		fmt.Fprintln(stdout, string(data))
		return true, nil
	case asToon:
		output, err := gotoon.Encode(v)
		if err != nil {
			return true, fmt.Errorf("failed to encode Toon: %w", err)
		}
		fmt.Fprintln(stdout, output)
		return true, nil
	}
	return false, nil
}
