package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	MinThreads int `yaml:"minThreads"`
	MaxThreads int `yaml:"maxThreads"`
}

func TestConfigManagerGetReturnsInitialConfig(t *testing.T) {
	cm := NewConfigManager(sampleConfig{MinThreads: 2}, "")
	got := cm.Get().(sampleConfig)
	assert.Equal(t, 2, got.MinThreads)
}

func TestConfigManagerUpdateReplacesCurrentAndNotifies(t *testing.T) {
	cm := NewConfigManager(sampleConfig{MinThreads: 2}, "")

	changed := make(chan [2]sampleConfig, 1)
	cm.SetOnChange(func(old, new interface{}) {
		changed <- [2]sampleConfig{old.(sampleConfig), new.(sampleConfig)}
	})

	require.NoError(t, cm.Update(sampleConfig{MinThreads: 5}))
	assert.Equal(t, 5, cm.Get().(sampleConfig).MinThreads)

	select {
	case pair := <-changed:
		assert.Equal(t, 2, pair[0].MinThreads)
		assert.Equal(t, 5, pair[1].MinThreads)
	case <-time.After(time.Second):
		t.Fatal("onChange callback never fired")
	}
}

func TestConfigManagerLoadFromFileUnmarshalsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minThreads: 3\nmaxThreads: 9\n"), 0644))

	cm := NewConfigManager(&sampleConfig{}, path)

	var loaded sampleConfig
	require.NoError(t, cm.LoadFromFile(&loaded))

	assert.Equal(t, 3, loaded.MinThreads)
	assert.Equal(t, 9, loaded.MaxThreads)

	got := cm.Get().(*sampleConfig)
	assert.Equal(t, 3, got.MinThreads)
}

func TestConfigManagerLoadFromFileMissingFileErrors(t *testing.T) {
	cm := NewConfigManager(&sampleConfig{}, filepath.Join(t.TempDir(), "missing.yaml"))
	var loaded sampleConfig
	assert.Error(t, cm.LoadFromFile(&loaded))
}

func TestConfigManagerSaveToFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cm := NewConfigManager(sampleConfig{MinThreads: 4, MaxThreads: 8}, path)

	require.NoError(t, cm.SaveToFile())
	assert.FileExists(t, path)

	reload := NewConfigManager(&sampleConfig{}, path)
	var loaded sampleConfig
	require.NoError(t, reload.LoadFromFile(&loaded))
	assert.Equal(t, 4, loaded.MinThreads)
	assert.Equal(t, 8, loaded.MaxThreads)
}

func TestConfigManagerWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minThreads: 1\n"), 0644))

	cm := NewConfigManager(&sampleConfig{MinThreads: 1}, path)
	defer cm.StopWatch()

	cm.Watch(20*time.Millisecond, func() interface{} { return &sampleConfig{} })

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("minThreads: 7\n"), 0644))

	require.Eventually(t, func() bool {
		cfg, ok := cm.Get().(*sampleConfig)
		return ok && cfg.MinThreads == 7
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfigManagerStopWatchIsSafeWithoutWatch(t *testing.T) {
	cm := NewConfigManager(sampleConfig{}, "")
	assert.NotPanics(t, func() { cm.StopWatch() })
}

func TestFeatureFlagsDefaultDisabled(t *testing.T) {
	ff := NewFeatureFlags()
	assert.False(t, ff.IsEnabled("unknown"))
}

func TestFeatureFlagsEnableDisableSet(t *testing.T) {
	ff := NewFeatureFlags()

	ff.Enable("fast-path")
	assert.True(t, ff.IsEnabled("fast-path"))

	ff.Disable("fast-path")
	assert.False(t, ff.IsEnabled("fast-path"))

	ff.Set("fast-path", true)
	assert.True(t, ff.IsEnabled("fast-path"))
}

func TestFeatureFlagsGetAll(t *testing.T) {
	ff := NewFeatureFlags()
	ff.Enable("a")
	ff.Disable("b")

	all := ff.GetAll()
	assert.Equal(t, map[string]bool{"a": true, "b": false}, all)
}
