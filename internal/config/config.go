// file: internal/config/config.go
// version: 1.3.0
// guid: 2f6a1c8d-9b3e-4d7a-8c1f-5e0b2a9d4c6e

package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Root directory for the database and cached images
	DatabasePath string
	CacheDir     string
	Host         string // Listen address; loopback by default
	Port         int

	// Default connection settings, written to the settings table on first run
	// so the settings form comes up pre-filled. The settings table is the
	// source of truth afterwards.
	ServerIP string
	Username string
	Password string
	APIKey   string
}

var AppConfig Config

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "mangadeck")
}

// InitConfig initializes the application configuration from viper
func InitConfig() {
	viper.SetDefault("data_dir", DefaultDataDir())
	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 11337)
	viper.SetDefault("server_ip", "localhost:5000")

	AppConfig = Config{
		DataDir:  viper.GetString("data_dir"),
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		ServerIP: viper.GetString("server_ip"),
		Username: viper.GetString("username"),
		Password: viper.GetString("password"),
		APIKey:   viper.GetString("api_key"),
	}

	AppConfig.DatabasePath = filepath.Join(AppConfig.DataDir, "cache.sqlite")
	AppConfig.CacheDir = filepath.Join(AppConfig.DataDir, "cache")
}
