package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReadsFileIndirection(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(secret, []byte("  hunter2\n"), 0600))

	t.Setenv("ONEBIT_TEST_PW", "")
	t.Setenv("ONEBIT_TEST_PW_FILE", secret)
	assert.Equal(t, "hunter2", Get("ONEBIT_TEST_PW", "def"))

	t.Setenv("ONEBIT_TEST_PW", "direct")
	assert.Equal(t, "direct", Get("ONEBIT_TEST_PW", "def"))
}

func TestTypedGetters(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(t *testing.T)
	}{
		{"int", "42", func(t *testing.T) { assert.Equal(t, 42, GetInt("ONEBIT_TEST_V", 1)) }},
		{"bad int", "forty", func(t *testing.T) { assert.Equal(t, 1, GetInt("ONEBIT_TEST_V", 1)) }},
		{"float", "2.5", func(t *testing.T) { assert.Equal(t, 2.5, GetFloat("ONEBIT_TEST_V", 1)) }},
		{"bool yes", "YES", func(t *testing.T) { assert.True(t, GetBool("ONEBIT_TEST_V", false)) }},
		{"bool no", "n", func(t *testing.T) { assert.False(t, GetBool("ONEBIT_TEST_V", true)) }},
		{"bool junk", "maybe", func(t *testing.T) { assert.True(t, GetBool("ONEBIT_TEST_V", true)) }},
		{"duration days", "2d", func(t *testing.T) {
			assert.Equal(t, 48*time.Hour, GetDuration("ONEBIT_TEST_V", time.Second))
		}},
		{"duration std", "90s", func(t *testing.T) {
			assert.Equal(t, 90*time.Second, GetDuration("ONEBIT_TEST_V", time.Second))
		}},
		{"list", " a.com, ,b.org,", func(t *testing.T) {
			assert.Equal(t, []string{"a.com", "b.org"}, GetList("ONEBIT_TEST_V", nil))
		}},
		{"empty list", "", func(t *testing.T) {
			assert.Equal(t, []string{"x"}, GetList("ONEBIT_TEST_V", []string{"x"}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ONEBIT_TEST_V", tt.value)
			tt.check(t)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ONEBIT_CONFIG", "")
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *s)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onebit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
processing:
  max_width: 800
  jpeg_quality: 75
server:
  port: "9000"
  fetch_timeout: 5s
history:
  enabled: true
`), 0644))

	t.Setenv("ONEBIT_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("BLOCKED_DOMAINS", "evil.com,bad.org")
	t.Setenv("HISTORY_RETENTION", "30d")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 800, s.Processing.MaxWidth)
	assert.Equal(t, 75, s.Processing.JPEGQuality)
	assert.Equal(t, "9100", s.Server.Port)
	assert.Equal(t, 5*time.Second, s.Server.FetchTimeout)
	assert.True(t, s.History.Enabled)
	assert.Equal(t, "sqlite", s.History.Type)
	assert.Equal(t, 30*24*time.Hour, s.History.Retention)
	assert.Equal(t, []string{"evil.com", "bad.org"}, s.Server.BlockedDomains)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("ONEBIT_CONFIG", "")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("JPEG_QUALITY", "0")
	t.Setenv("BLOCKED_DOMAINS", "not a host!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogFormat")
	assert.Contains(t, err.Error(), "JPEGQuality")
	assert.Contains(t, err.Error(), "BlockedDomains")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ONEBIT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
