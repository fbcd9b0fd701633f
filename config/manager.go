package config

import (
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-pipeline/types"
)

// Manager owns the loaded configuration and republishes it atomically on
// Load, so request workers always observe a complete snapshot.
type Manager struct {
	configPath string
	loader     *Loader
	config     atomic.Pointer[types.PipelineConfig]
	mu         sync.Mutex
}

func NewManager(configPath string) (*Manager, error) {
	cm := &Manager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewManagerFromConfig wraps an already-built config, mainly for tests and
// embedded use.
func NewManagerFromConfig(config *types.PipelineConfig) *Manager {
	cm := &Manager{loader: NewLoader()}
	normalizeLimitRules(config)
	cm.config.Store(config)
	return cm
}

func (cm *Manager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	normalizeLimitRules(config)
	cm.config.Store(config)

	return nil
}

func (cm *Manager) GetConfig() *types.PipelineConfig {
	return cm.config.Load()
}
