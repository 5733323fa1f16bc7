// Package config hot-reloads a Pool's Config from a YAML file and
// tracks runtime feature-flag toggles.
package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigManager holds the current configuration value (opaque to this
// package) and, if constructed with a non-empty path, can reload it
// from a YAML file on disk.
type ConfigManager struct {
	current  atomic.Value // stores current config
	path     string
	onChange func(old, new interface{})
	mu       sync.Mutex
	stopChan chan struct{}
}

func NewConfigManager(initialConfig interface{}, path string) *ConfigManager {
	cm := &ConfigManager{path: path}
	cm.current.Store(initialConfig)
	return cm
}

func (cm *ConfigManager) SetOnChange(fn func(old, new interface{})) {
	cm.onChange = fn
}

func (cm *ConfigManager) Get() interface{} {
	return cm.current.Load()
}

func (cm *ConfigManager) Update(newConfig interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := cm.current.Load()
	cm.current.Store(newConfig)

	if cm.onChange != nil {
		go cm.onChange(oldConfig, newConfig)
	}
	return nil
}

// LoadFromFile reads cm.path as YAML into config (a pointer) and
// installs it as the current value.
func (cm *ConfigManager) LoadFromFile(config interface{}) error {
	data, err := os.ReadFile(cm.path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return err
	}
	return cm.Update(config)
}

func (cm *ConfigManager) SaveToFile() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := yaml.Marshal(cm.current.Load())
	if err != nil {
		return err
	}
	return os.WriteFile(cm.path, data, 0644)
}

// Watch polls cm.path every interval and calls LoadFromFile whenever
// its mtime advances, until StopWatch is called. newConfig must return a
// fresh pointer each call so old and new configs in onChange stay
// distinct values.
func (cm *ConfigManager) Watch(interval time.Duration, newConfig func() interface{}) {
	cm.stopChan = make(chan struct{})
	go func() {
		var lastMod time.Time
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-cm.stopChan:
				return
			case <-ticker.C:
				info, err := os.Stat(cm.path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cm.LoadFromFile(newConfig())
			}
		}
	}()
}

func (cm *ConfigManager) StopWatch() {
	if cm.stopChan != nil {
		close(cm.stopChan)
	}
}

// FeatureFlags is a set of boolean toggles a Pool checks at runtime,
// independent of the Config it was started with.
type FeatureFlags struct {
	flags sync.Map // map[string]bool
}

func NewFeatureFlags() *FeatureFlags { return &FeatureFlags{} }

func (ff *FeatureFlags) IsEnabled(feature string) bool {
	val, ok := ff.flags.Load(feature)
	if !ok {
		return false
	}
	return val.(bool)
}

func (ff *FeatureFlags) Enable(feature string)  { ff.flags.Store(feature, true) }
func (ff *FeatureFlags) Disable(feature string) { ff.flags.Store(feature, false) }
func (ff *FeatureFlags) Set(feature string, enabled bool) {
	ff.flags.Store(feature, enabled)
}

func (ff *FeatureFlags) GetAll() map[string]bool {
	result := make(map[string]bool)
	ff.flags.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(bool)
		return true
	})
	return result
}
