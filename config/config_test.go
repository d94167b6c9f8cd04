package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 6379, cfg.Port)
	require.True(t, cfg.RDB.Enabled)
	require.Equal(t, "everysec", cfg.AOF.Mode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tinyredis.yaml")
	body := "port: 7000\naof:\n  enabled: true\n  mode: always\nreplica:\n  enabled: true\n  master_host: 10.0.0.1\n  master_port: 6379\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.True(t, cfg.AOF.Enabled)
	require.Equal(t, "always", cfg.AOF.Mode)
	require.True(t, cfg.Replica.Enabled)
	require.Equal(t, "10.0.0.1", cfg.Replica.MasterHost)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverlayOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tinyredis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o644))
	t.Setenv("TINYREDIS_PORT", "9999")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AOF.Mode = "sometimes"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Replica.Enabled = true
	cfg.Replica.MasterHost = ""
	require.Error(t, cfg.Validate())
}

func TestAddress(t *testing.T) {
	cfg := Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 6380
	require.Equal(t, "127.0.0.1:6380", cfg.Address())
}
