package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-pipeline/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.PipelineConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.PipelineConfig, error) {
	config := l.Defaults()

	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) Defaults() *types.PipelineConfig {
	return &types.PipelineConfig{
		Version: "0.1.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
				Concurrency:     256 * 1024,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Path:      "/metrics",
			Namespace: "sai_pipeline",
		},
		Access: &types.AccessConfig{},
		Limit: &types.LimitConfig{
			Enabled: false,
		},
		Static: &types.StaticConfig{
			DefaultFile: "index.html",
			Cache: &types.StaticCacheConfig{
				Enabled: false,
				MaxAge:  3600,
			},
		},
	}
}

// normalizeLimitRules fills the default window on rules that omit it.
func normalizeLimitRules(config *types.PipelineConfig) {
	if config.Limit == nil {
		return
	}
	for i := range config.Limit.Rules {
		if config.Limit.Rules[i].Window <= 0 {
			config.Limit.Rules[i].Window = types.Duration(time.Minute)
		}
	}
}
