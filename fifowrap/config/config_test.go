package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cfg, err := Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("partial", func(t *testing.T) {
		cfg, err := Parse(strings.NewReader(`
journal: /var/lib/fifowrap/journal.json
journal_wait: 5s
watch: true
commands:
  stop: stop
`))
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/fifowrap/journal.json", cfg.Journal)
		assert.Equal(t, 5*time.Second, cfg.JournalWait)
		assert.True(t, cfg.Watch)
		assert.Equal(t, LogText, cfg.LogFormat)
		assert.Equal(t, "stop", cfg.Commands.Stop)
		assert.Equal(t, "/save-off", cfg.Commands.SaveOff)
		assert.Equal(t, "stop", cfg.SupervisorCommands().Stop)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse(strings.NewReader("stop_timeout: 5s\n"))
		assert.Error(t, err)
	})

	t.Run("bad log format", func(t *testing.T) {
		_, err := Parse(strings.NewReader("log_format: xml\n"))
		assert.EqualError(t, err, `unknown log format "xml"`)
	})

	t.Run("negative journal wait", func(t *testing.T) {
		_, err := Parse(strings.NewReader("journal_wait: -1s\n"))
		assert.EqualError(t, err, "journal wait must not be negative")
	})

	t.Run("empty stop", func(t *testing.T) {
		_, err := Parse(strings.NewReader("commands:\n  stop: \"\"\n"))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifowrap.yml")
	require.NoError(t, os.WriteFile(path, []byte("metrics_addr: 127.0.0.1:9100\nlog_format: json\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, LogJSON, cfg.LogFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
