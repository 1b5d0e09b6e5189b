package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleeistaken/vcf-credential-manager/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "vcfcred.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.VCFTimeout)
	assert.Equal(t, 4, cfg.SyncWorkers)
	assert.Equal(t, time.Hour, cfg.MisfireGrace)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VCFCRED_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("VCFCRED_DB_PATH", "/data/creds.db")
	t.Setenv("VCFCRED_LOG_LEVEL", "debug")
	t.Setenv("VCFCRED_VCF_TIMEOUT", "10s")
	t.Setenv("VCFCRED_SYNC_WORKERS", "8")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/data/creds.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.VCFTimeout)
	assert.Equal(t, 8, cfg.SyncWorkers)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: 10.0.0.1:8443\ndb_path: /var/lib/vcfcred/creds.db\nsync_workers: 2\n",
	), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:8443", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/vcfcred/creds.db", cfg.DBPath)
	assert.Equal(t, 2, cfg.SyncWorkers)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.VCFTimeout)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("VCFCRED_LISTEN_ADDR", "0.0.0.0:7000")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.ListenAddr)
}
