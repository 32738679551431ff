package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	dirName   = ".sidemo"
	envPrefix = "SIDEMO"
)

var (
	instance *viper.Viper
	once     sync.Once
	configMu sync.RWMutex
)

// Get returns the process-wide configuration, loading it on first use.
func Get() *viper.Viper {
	once.Do(func() {
		instance = Load(GetConfigDir())
	})
	return instance
}

// Load reads config.yaml from dir, writing a file with defaults first if
// none exists. Environment variables prefixed with SIDEMO_ override keys.
func Load(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		configDir = "."
	}
	v.AddConfigPath(configDir)

	v.SetDefault("app_name", "demo")
	v.SetDefault("base_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_message_size", 1<<20)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		// A read-only home still runs on defaults
		_ = v.SafeWriteConfigAs(configFile)
	}

	// Defaults apply when the file is missing or malformed
	_ = v.ReadInConfig()
	return v
}

func Save() error {
	configMu.Lock()
	defer configMu.Unlock()

	if instance == nil {
		return nil
	}
	return instance.WriteConfig()
}

func NormalizeKey(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}

func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, dirName)
}
