// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-machine/howfar/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, []int{15, 30, 45, 60, 90, 120, 150, 180}, cfg.CutoffMinutes)
	assert.Equal(t, 8, cfg.BatchParallelism)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOWFAR_SERVER_PORT", "9999")
	t.Setenv("HOWFAR_WORKER_URLS", "http://a,http://b,http://c")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.ServerPort)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, cfg.WorkerURLs)
}

func TestLoadEnvTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := dir + "/.env"
	require.NoError(t, os.WriteFile(envFile, []byte("HOWFAR_LOG_LEVEL=debug\n"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	t.Setenv("HOWFAR_LOG_LEVEL", "warn")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}
