package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type ConfigManager interface {
	Load() error
	GetConfig() *PipelineConfig
}

type PipelineConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Version string         `yaml:"version" json:"version"`
	Server  *ServerConfig  `yaml:"server" json:"server"`
	Logger  *LoggerConfig  `yaml:"logger" json:"logger"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Access  *AccessConfig  `yaml:"access" json:"access"`
	Limit   *LimitConfig   `yaml:"limit" json:"limit"`
	Static  *StaticConfig  `yaml:"static" json:"static"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Concurrency     int    `yaml:"concurrency" json:"concurrency"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// AccessConfig holds the allow/deny rule lists. Entries are single IPs or
// CIDR subnets. A non-empty allow list admits only listed sources; the
// deny list always wins on a match.
type AccessConfig struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// Duration is a time.Duration that unmarshals from YAML either as a
// duration string ("30s", "1m") or as a plain number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LimitRule budgets requests for one IP or subnet inside a rolling window.
// Subnet rules share one counter across every address they contain.
type LimitRule struct {
	Address string   `yaml:"address" json:"address" validate:"required"`
	Limit   int64    `yaml:"limit" json:"limit" validate:"min=1"`
	Window  Duration `yaml:"window" json:"window"`
}

type LimitConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Rules   []LimitRule `yaml:"rules" json:"rules" validate:"dive"`
}

type StaticConfig struct {
	Roots       []string           `yaml:"roots" json:"roots"`
	DefaultFile string             `yaml:"default_file" json:"default_file"`
	Compress    bool               `yaml:"compress" json:"compress"`
	Cache       *StaticCacheConfig `yaml:"cache" json:"cache"`
}

// StaticCacheConfig decides Cache-Control eligibility for served files.
// Include/Exclude are regular expressions matched against the request path;
// an empty Include admits every path the Exclude does not reject.
type StaticCacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	MaxAge  int    `yaml:"max_age" json:"max_age" validate:"min=0"`
	Include string `yaml:"include" json:"include"`
	Exclude string `yaml:"exclude" json:"exclude"`
}
