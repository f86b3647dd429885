package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/burningass23/kraft-broker/internal/config"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9092", cfg.ListenAddr)
	require.Equal(t, "/tmp/kraft-combined-logs", cfg.MetadataLogDir)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := config.Parse([]string{"-listen", "127.0.0.1:9093", "-metadata-log-dir", "/var/lib/kraft"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9093", cfg.ListenAddr)
	require.Equal(t, "/var/lib/kraft", cfg.MetadataLogDir)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := config.Parse([]string{"-bogus"})
	require.Error(t, err)
}
