// file: cmd/root_test.go
// version: 1.1.0
// guid: 5c0f2a8d-7e3b-49d1-a6c4-9b1e8f5d2a37

package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/mangadeck/mangadeck/internal/config"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})

	err := rootCmd.Execute()
	require.NoError(t, err)
}

func TestRootHasConnectionFlags(t *testing.T) {
	for _, name := range []string{"data-dir", "host", "port", "server-ip", "username", "password", "api-key"} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
}

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	config.InitConfig()

	require.Equal(t, "127.0.0.1", config.AppConfig.Host)
	require.Equal(t, 11337, config.AppConfig.Port)
	require.Equal(t, "localhost:5000", config.AppConfig.ServerIP)
	require.NotEmpty(t, config.AppConfig.DatabasePath)
	require.NotEmpty(t, config.AppConfig.CacheDir)
}
