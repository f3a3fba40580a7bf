package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("microhttpd", flag.ContinueOnError)
	return Parse(fs, args)
}

func TestParseRequiresPort(t *testing.T) {
	_, err := parse(t)
	assert.Error(t, err)
}

func TestParsePositionalPort(t *testing.T) {
	cfg, err := parse(t, "8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)

	// Defaults survive.
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10000, cfg.QueueCapacity)
	assert.Equal(t, 2048, cfg.ReadBufferSize)
	assert.Equal(t, 1024, cfg.WriteBufferSize)
	assert.Equal(t, 5, cfg.TimeslotSeconds)
}

func TestParseInvalidPort(t *testing.T) {
	for _, p := range []string{"nope", "0", "-1", "70000"} {
		_, err := parse(t, p)
		assert.Error(t, err, "port %q", p)
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := parse(t, "-doc-root", "/srv/www", "-workers", "4", "-timeslot", "2", "9090")
	require.NoError(t, err)
	assert.Equal(t, "/srv/www", cfg.DocRoot)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 2, cfg.TimeslotSeconds)
	assert.Equal(t, 9090, cfg.Port)
}

func TestParseYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(file, []byte("doc_root: /data/site\nworkers: 16\n"), 0o644))

	cfg, err := parse(t, "-config", file, "8080")
	require.NoError(t, err)
	assert.Equal(t, "/data/site", cfg.DocRoot)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, file, cfg.File)
}

func TestParseFlagBeatsYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(file, []byte("workers: 16\n"), 0o644))

	cfg, err := parse(t, "-config", file, "-workers", "2", "8080")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestIdleTimeout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3*cfg.Timeslot(), cfg.IdleTimeout())
}

func TestValidate(t *testing.T) {
	cfg, err := parse(t, "-read-buffer", "0", "8080")
	assert.Nil(t, cfg)
	assert.Error(t, err)
}
