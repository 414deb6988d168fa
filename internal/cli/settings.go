package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/graflow"
)

// Settings is the CLI configuration, read from the config file, GRAFLOW_*
// environment variables and flags, in increasing order of precedence.
type Settings struct {
	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	RequireAuthentication bool          `mapstructure:"require_authentication"`
	RecursionLimit        int           `mapstructure:"recursion_limit"`
	NodeCacheTTL          time.Duration `mapstructure:"node_cache_ttl"`
	StoreRefreshOnRead    bool          `mapstructure:"store_refresh_on_read"`
	SweepSchedule         string        `mapstructure:"sweep_schedule"`
	CreationRate          string        `mapstructure:"creation_rate"`
	ResumeRate            string        `mapstructure:"resume_rate"`
}

// newViper returns a viper instance holding the defaults.
func newViper() *viper.Viper {
	v := viper.New()
	def := graflow.DefaultConfig()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:graflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("require_authentication", def.RequireAuthentication)
	v.SetDefault("recursion_limit", def.RecursionLimit)
	v.SetDefault("node_cache_ttl", def.NodeCacheTTL)
	v.SetDefault("store_refresh_on_read", def.StoreRefreshOnRead)
	v.SetDefault("sweep_schedule", def.SweepSchedule)
	v.SetDefault("creation_rate", def.CreationRate)
	v.SetDefault("resume_rate", def.ResumeRate)

	v.SetEnvPrefix("graflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadSettings reads path, if set, and decodes the merged configuration.
func loadSettings(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &s, nil
}

// Config converts the settings into the library configuration.
func (s *Settings) Config() graflow.Config {
	return graflow.Config{
		RequireAuthentication: s.RequireAuthentication,
		RecursionLimit:        s.RecursionLimit,
		NodeCacheTTL:          s.NodeCacheTTL,
		StoreRefreshOnRead:    s.StoreRefreshOnRead,
		SweepSchedule:         s.SweepSchedule,
		CreationRate:          s.CreationRate,
		ResumeRate:            s.ResumeRate,
	}
}

// Logger builds the process logger. Logs go to stderr so that command
// output stays machine readable.
func (s *Settings) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
