// Package config loads engine settings. SYNC_* environment variables
// override the YAML file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// SYNC_REMOTE_BASE_URL for remote.base_url.
const EnvPrefix = "SYNC"

// Network modes.
const (
	NetworkManual = "manual"
	NetworkProbe  = "probe"
)

// Config is the effective configuration.
type Config struct {
	DataDir   string                  `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	Remote    RemoteConfig            `mapstructure:"remote" yaml:"remote"`
	Server    ServerConfig            `mapstructure:"server" yaml:"server"`
	Network   NetworkConfig           `mapstructure:"network" yaml:"network"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler" yaml:"scheduler"`
	Log       LogConfig               `mapstructure:"log" yaml:"log"`
	Entities  map[string]EntityConfig `mapstructure:"entities" yaml:"entities" validate:"required,min=1"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-" yaml:"-"`
}

// RemoteConfig points at the sync server.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// ServerConfig is the local control API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
}

// NetworkConfig selects how connectivity is detected.
type NetworkConfig struct {
	Mode     string        `mapstructure:"mode" yaml:"mode" validate:"oneof=manual probe"`
	ProbeURL string        `mapstructure:"probe_url" yaml:"probe_url" validate:"required_if=Mode probe,omitempty,url"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// SchedulerConfig controls automatic syncs.
type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval          time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`
	ReconnectDebounce time.Duration `mapstructure:"reconnect_debounce" yaml:"reconnect_debounce" validate:"gte=0"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

// EntityConfig registers one synced entity type. With no Fields the server
// copy is stored verbatim; otherwise only the listed fields are merged.
type EntityConfig struct {
	Fields []string `mapstructure:"fields" yaml:"fields,omitempty"`
}

// DefaultEntities are the store's synced tables.
var DefaultEntities = []string{
	"categories",
	"customers",
	"products",
	"sales",
	"stock_movements",
	"suppliers",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("server.addr", "127.0.0.1:8090")

	v.SetDefault("network.mode", NetworkManual)
	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.interval", 15*time.Second)
	v.SetDefault("network.timeout", 5*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("scheduler.reconnect_debounce", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	entities := make(map[string]interface{}, len(DefaultEntities))
	for _, name := range DefaultEntities {
		entities[name] = map[string]interface{}{"fields": []string{}}
	}
	v.SetDefault("entities", entities)
}

// Load reads configuration. Entities listed in the file are added to the
// defaults. An empty path searches ./config.yaml and
// {data_dir}/config.yaml and tolerates their absence; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file "+path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to decode config", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid config", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, formatFieldError(fe))
	}
	return apperrors.New(apperrors.ErrConfig, "invalid config: "+strings.Join(msgs, ", "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	}
	return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
}

// EntityTypes returns the configured entity type names, sorted.
func (c *Config) EntityTypes() []string {
	names := make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Remote.Token != "" {
		out.Remote.Token = "***REDACTED***"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to render config", err)
	}
	return data, nil
}
