package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pders01/ctxsnap/internal/config"
	"github.com/pders01/ctxsnap/internal/models"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the storage root and a default config file",
	Long: `Prepare ctxsnap for first use.

This command:
  - Creates the storage root with its snapshots/ directory
  - Writes settings.json with first-run defaults if it is missing
  - Creates $HOME/.config/ctxsnap/config.toml if it doesn't exist

Running it again is safe; existing files are left alone unless --force
is given for the config file.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

type fileConfig struct {
	Storage   storageConfig   `toml:"storage"`
	Log       logConfig       `toml:"log"`
	Sync      syncConfig      `toml:"sync"`
	Retention retentionConfig `toml:"retention"`
}

type storageConfig struct {
	Root string `toml:"root"`
}

type logConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type syncConfig struct {
	Timeout     string `toml:"timeout"`
	BackoffBase string `toml:"backoff_base"`
	BackoffMax  string `toml:"backoff_max"`
	Debounce    string `toml:"debounce"`
}

type retentionConfig struct {
	Days         int      `toml:"days"`
	PreserveTags []string `toml:"preserve_tags"`
}

// defaultConfig renders the effective configuration as config.toml.
func defaultConfig() ([]byte, error) {
	cfg := fileConfig{
		Storage: storageConfig{Root: config.GetStorageRoot()},
		Log: logConfig{
			Level:      config.GetLogLevel(),
			MaxSizeMB:  config.GetLogMaxSizeMB(),
			MaxBackups: config.GetLogMaxBackups(),
		},
		Sync: syncConfig{
			Timeout:     config.GetSyncTimeout().String(),
			BackoffBase: config.GetBackoffBase().String(),
			BackoffMax:  config.GetBackoffMax().String(),
			Debounce:    config.GetDebounce().String(),
		},
		Retention: retentionConfig{
			Days:         config.GetRetentionDays(),
			PreserveTags: config.GetPreserveTags(),
		},
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	settingsPath := a.Store.Path(models.KindSettings, "")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		s, err := a.Store.LoadSettings()
		if err != nil {
			return err
		}
		if err := a.Store.SaveSettings(s); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
		fmt.Fprintf(stdout, "✓ Created settings: %s\n", settingsPath)
	}
	fmt.Fprintf(stdout, "✓ Storage root: %s\n", a.Store.Root())

	configPath := cfgFile
	if configPath == "" {
		dir, err := config.Dir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		configPath = filepath.Join(dir, "config.toml")
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Fprintf(stdout, "Config already exists: %s\n", configPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := defaultConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(stdout, "✓ Created config: %s\n", configPath)
	return nil
}
