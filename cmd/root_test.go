package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyredis/tinyredis/config"
)

func TestApplyFlagOverridesAppliesChangedFlags(t *testing.T) {
	cfg := config.Default()
	applyFlagOverrides(cfg, true, 7001, true, "10.0.0.5")
	require.Equal(t, 7001, cfg.Port)
	require.Equal(t, "10.0.0.5", cfg.BindAddress)
}

func TestApplyFlagOverridesLeavesUnchangedFlagsAlone(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 6399
	cfg.BindAddress = "0.0.0.0"
	applyFlagOverrides(cfg, false, 7001, false, "10.0.0.5")
	require.Equal(t, 6399, cfg.Port)
	require.Equal(t, "0.0.0.0", cfg.BindAddress)
}

func TestApplyFlagOverridesIndependentPerField(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 6399
	cfg.BindAddress = "0.0.0.0"
	applyFlagOverrides(cfg, true, 7001, false, "10.0.0.5")
	require.Equal(t, 7001, cfg.Port)
	require.Equal(t, "0.0.0.0", cfg.BindAddress)
}

func TestRootCmdRegistersPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "port", "bind"} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag %q not registered", name)
	}
}
