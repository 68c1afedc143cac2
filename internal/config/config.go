package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CTXSNAP_STORAGE_ROOT.
const EnvPrefix = "CTXSNAP"

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.root", DefaultRoot())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 1)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("sync.timeout", 30*time.Second)
	v.SetDefault("sync.backoff_base", 5*time.Second)
	v.SetDefault("sync.backoff_max", 10*time.Minute)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.preserve_tags", []string{"important"})
}

// DefaultRoot is the storage root used when none is configured.
func DefaultRoot() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ctxsnap", "data")
	}
	return filepath.Join(os.TempDir(), "ctxsnap")
}

// Dir returns the directory holding config.toml.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ctxsnap"), nil
}

// GetStorageRoot returns the document store root
func GetStorageRoot() string {
	return viper.GetString("storage.root")
}

func GetLogLevel() string {
	return viper.GetString("log.level")
}

// GetLogFile returns the rotating log path, defaulting to logs/ctxsnap.log
// under the storage root.
func GetLogFile() string {
	if f := viper.GetString("log.file"); f != "" {
		return f
	}
	return filepath.Join(GetStorageRoot(), "logs", "ctxsnap.log")
}

func GetLogMaxSizeMB() int {
	return viper.GetInt("log.max_size_mb")
}

func GetLogMaxBackups() int {
	return viper.GetInt("log.max_backups")
}

// GetSyncTimeout bounds each provider call
func GetSyncTimeout() time.Duration {
	return viper.GetDuration("sync.timeout")
}

func GetBackoffBase() time.Duration {
	return viper.GetDuration("sync.backoff_base")
}

func GetBackoffMax() time.Duration {
	return viper.GetDuration("sync.backoff_max")
}

// GetDebounce returns the quiet period before a change triggers a sync
func GetDebounce() time.Duration {
	return viper.GetDuration("sync.debounce")
}

// GetRetentionDays returns the retention period in days
func GetRetentionDays() int {
	return viper.GetInt("retention.days")
}

// GetPreserveTags returns tags that should be preserved indefinitely
func GetPreserveTags() []string {
	return viper.GetStringSlice("retention.preserve_tags")
}

// ShouldPreserve checks if a snapshot with given tags should be preserved
func ShouldPreserve(tags []string) bool {
	preserveTags := GetPreserveTags()
	for _, tag := range tags {
		for _, preserveTag := range preserveTags {
			if tag == preserveTag {
				return true
			}
		}
	}
	return false
}
