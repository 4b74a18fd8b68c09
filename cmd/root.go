// file: cmd/root.go
// version: 1.2.0
// guid: 3b8e5d1f-9a2c-47b6-8e0d-4f7a1c9b3e52

package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mangadeck/mangadeck/internal/config"
	"github.com/mangadeck/mangadeck/internal/database"
	"github.com/mangadeck/mangadeck/internal/engine"
	"github.com/mangadeck/mangadeck/internal/prefetch"
	"github.com/mangadeck/mangadeck/internal/realtime"
	"github.com/mangadeck/mangadeck/internal/server"
)

// Version is stamped at build time.
var Version = "dev"

var cfgFile string

// rootCmd runs the proxy daemon; there is no separate serve subcommand, the
// daemon is the whole program.
var rootCmd = &cobra.Command{
	Use:   "mangadeck",
	Short: "Local caching proxy for a Kavita manga server",
	Long: `Mangadeck sits between a reader UI and a remote Kavita server. It mirrors
the catalog into a local SQLite database, caches covers and pages on disk,
and keeps working offline: reads are served from the cache and reading
progress is queued and uploaded on the next reconnect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runDaemon() error {
	cfg := config.AppConfig

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := database.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	log.Printf("[INFO] Using database %s", cfg.DatabasePath)

	hub := realtime.NewEventHub()

	eng, err := engine.New(store, hub, cfg.CacheDir)
	if err != nil {
		return err
	}
	if err := eng.SeedSettings(cfg.ServerIP, cfg.Username, cfg.Password, cfg.APIKey); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	// The daemon starts regardless of connectivity; a failed login just
	// means offline mode until the settings are fixed or the server is up.
	if err := eng.Reconnect(); err != nil {
		log.Printf("[WARN] Starting offline: %v", err)
	}

	worker := prefetch.New(eng, hub)

	srv := server.NewServer(eng, worker, hub)
	return srv.Start(server.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		ReadTimeout: 15 * time.Second,
		// No write timeout: the SSE stream stays open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	})
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mangadeck.yaml)")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir(), "directory for the database and cached images")
	rootCmd.PersistentFlags().String("host", "127.0.0.1", "address to bind the API server to")
	rootCmd.PersistentFlags().Int("port", 11337, "port to bind the API server to")
	rootCmd.PersistentFlags().String("server-ip", "localhost:5000", "Kavita server address (host or host:port)")
	rootCmd.PersistentFlags().String("username", "", "Kavita username")
	rootCmd.PersistentFlags().String("password", "", "Kavita password")
	rootCmd.PersistentFlags().String("api-key", "", "Kavita API key")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server_ip", rootCmd.PersistentFlags().Lookup("server-ip"))
	viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
	viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mangadeck")
	}

	viper.SetEnvPrefix("mangadeck")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("[INFO] Using config file %s", viper.ConfigFileUsed())
	}

	config.InitConfig()

	if dir := filepath.Dir(config.AppConfig.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[WARN] Failed to create data directory %s: %v", dir, err)
		}
	}
}
