// Package config loads server configuration from an optional YAML file
// with an environment-variable overlay: defaults are seeded first, an
// on-disk file overrides them, and a TINYREDIS_-prefixed environment
// variable overrides the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// RDB configures the snapshot codec (Component D).
type RDB struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	Filename string `mapstructure:"filename"`
}

// AOF configures the append-only log (Component E).
type AOF struct {
	Enabled               bool   `mapstructure:"enabled"`
	Mode                  string `mapstructure:"mode"`
	Dir                   string `mapstructure:"dir"`
	Filename              string `mapstructure:"filename"`
	AutoRewriteMinSize    int64  `mapstructure:"auto_rewrite_min_size"`
	AutoRewritePercentage int    `mapstructure:"auto_rewrite_percentage"`
}

// Replica configures this server as a read replica of a master.
type Replica struct {
	Enabled    bool   `mapstructure:"enabled"`
	MasterHost string `mapstructure:"master_host"`
	MasterPort int    `mapstructure:"master_port"`
}

// Log configures the ambient logger.
type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full set of options recognized by the external config
// loader.
type Config struct {
	Port        int     `mapstructure:"port"`
	BindAddress string  `mapstructure:"bind_address"`
	RDB         RDB     `mapstructure:"rdb"`
	AOF         AOF     `mapstructure:"aof"`
	Replica     Replica `mapstructure:"replica"`
	Log         Log     `mapstructure:"log"`
}

// Default returns the configuration a server starts with when no file,
// flags, or environment variables override anything.
func Default() *Config {
	return &Config{
		Port:        6379,
		BindAddress: "0.0.0.0",
		RDB: RDB{
			Enabled:  true,
			Dir:      ".",
			Filename: "dump.rdb",
		},
		AOF: AOF{
			Enabled:               false,
			Mode:                  "everysec",
			Dir:                   ".",
			Filename:              "tinyredis.aof",
			AutoRewriteMinSize:    64 << 20,
			AutoRewritePercentage: 100,
		},
		Replica: Replica{
			Enabled: false,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Address joins BindAddress and Port into a dial/listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Validate rejects configuration values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d (must be 1-65535)", c.Port)
	}
	switch c.AOF.Mode {
	case "always", "everysec", "no":
	default:
		return fmt.Errorf("config: invalid aof.mode %q (must be always, everysec, or no)", c.AOF.Mode)
	}
	if c.Replica.Enabled && (c.Replica.MasterHost == "" || c.Replica.MasterPort == 0) {
		return fmt.Errorf("config: replica.enabled requires master_host and master_port")
	}
	return nil
}

// Load reads configuration from path (if non-empty), falling back to
// "tinyredis.yaml" in the working directory, overlaid by TINYREDIS_-
// prefixed environment variables (e.g. TINYREDIS_AOF_MODE=always), with
// Default as the baseline for anything neither sets. A missing config
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tinyredis")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TINYREDIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("port", d.Port)
	v.SetDefault("bind_address", d.BindAddress)
	v.SetDefault("rdb.enabled", d.RDB.Enabled)
	v.SetDefault("rdb.dir", d.RDB.Dir)
	v.SetDefault("rdb.filename", d.RDB.Filename)
	v.SetDefault("aof.enabled", d.AOF.Enabled)
	v.SetDefault("aof.mode", d.AOF.Mode)
	v.SetDefault("aof.dir", d.AOF.Dir)
	v.SetDefault("aof.filename", d.AOF.Filename)
	v.SetDefault("aof.auto_rewrite_min_size", d.AOF.AutoRewriteMinSize)
	v.SetDefault("aof.auto_rewrite_percentage", d.AOF.AutoRewritePercentage)
	v.SetDefault("replica.enabled", d.Replica.Enabled)
	v.SetDefault("replica.master_host", d.Replica.MasterHost)
	v.SetDefault("replica.master_port", d.Replica.MasterPort)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}
