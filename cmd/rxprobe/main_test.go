package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norasector/rxprobe/pkg/harness/config"
	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/sdr/mock"
)

func mockRegistry() *sdr.Registry {
	d := mock.NewDriver(mock.DefaultConfig(), sdr.Kwargs{"serial": "mock0"})
	registry := sdr.NewRegistry()
	registry.Register(mock.DriverName, d.Find, d.Make)
	return registry
}

func mockConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Args = "driver=mock"
	cfg.Settle = 0
	cfg.Reads = 3
	cfg.RecordLocation = filepath.Join(t.TempDir(), "capture.cs16")
	return cfg
}

func TestRunRecordsAndReturns(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Hold = true
	cfg.VizServer.OutputDir = filepath.Join(t.TempDir(), "plots")

	require.NoError(t, run(cfg, mockRegistry()))

	info, err := os.Stat(cfg.RecordLocation)
	require.NoError(t, err)
	assert.Equal(t, int64(3*1024*4), info.Size())

	_, err = os.Stat(filepath.Join(cfg.VizServer.OutputDir, "spectrum.png"))
	assert.NoError(t, err)
}

func TestRunReturnsFailure(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Args = "driver=missing"

	err := run(cfg, mockRegistry())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sdr.ErrUnknownDriver))

	_, err = os.Stat(cfg.RecordLocation)
	assert.NoError(t, err)
}
