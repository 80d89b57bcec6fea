package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tkernel/pit"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tkernel.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
timer_freq = 1000
policy = "priority"
console = "simple"
keyboard = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.TimerFreq = 1000
	want.Policy = "priority"
	want.Console = ConsoleSimple
	want.Keyboard = true
	assert.Equal(t, want, cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "timer_frequency = 100\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timer_frequency")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"slow timer", func(c *Config) { c.TimerFreq = 18 }, "timer_freq 18"},
		{"fast timer", func(c *Config) { c.TimerFreq = 1001 }, "timer_freq 1001"},
		{"zero slice", func(c *Config) { c.TimeSlice = 0 }, "time_slice"},
		{"tiny pool", func(c *Config) { c.Pages = 2 }, "pages"},
		{"policy", func(c *Config) { c.Policy = "lottery" }, "lottery"},
		{"clock", func(c *Config) { c.Clock = "sundial" }, "sundial"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "loud"},
		{"console", func(c *Config) { c.Console = "serial" }, "serial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.TimerFreq = 5
	assert.ErrorIs(t, cfg.Validate(), pit.ErrFrequency)
}
