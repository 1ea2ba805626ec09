package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/flowforge"
)

func writeOverlay(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flowforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeOverlay(t, "rng_seed: 42\nconcurrency: segment-parallel\n")

	ov, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, ov.RNGSeed)
	assert.EqualValues(t, 42, *ov.RNGSeed)
	require.NotNil(t, ov.Concurrency)
	assert.Equal(t, "segment-parallel", *ov.Concurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeOverlay(t, "rng_seed: [this is not a scalar\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestOverlay_Apply_OnlySetsPresentFields(t *testing.T) {
	base := flowforge.DefaultConfig()
	seed := int64(99)
	ov := Overlay{RNGSeed: &seed}

	cfg, err := ov.Apply(base)
	require.NoError(t, err)
	assert.EqualValues(t, 99, cfg.RNGSeed)
	assert.Equal(t, base.Concurrency, cfg.Concurrency)
	assert.Equal(t, base.DeadlockThreshold, cfg.DeadlockThreshold)
}

func TestOverlay_Apply_AllFields(t *testing.T) {
	base := flowforge.DefaultConfig()
	concurrency := "pipeline-parallel"
	threshold := 5
	capacity := uint64(128)
	seed := int64(7)
	showCycles := true
	blocked := true
	dynBuf := true
	timeout := 2 * time.Second

	ov := Overlay{
		Concurrency:           &concurrency,
		DeadlockThreshold:     &threshold,
		InitialBufferCapacity: &capacity,
		RNGSeed:               &seed,
		ShowKernelCycles:      &showCycles,
		TraceBlockedIO:        &blocked,
		TraceDynamicBuffers:   &dynBuf,
		SegmentTimeout:        &timeout,
	}

	cfg, err := ov.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, flowforge.PipelineParallel, cfg.Concurrency)
	assert.Equal(t, 5, cfg.DeadlockThreshold)
	assert.EqualValues(t, 128, cfg.InitialBufferCapacity)
	assert.EqualValues(t, 7, cfg.RNGSeed)
	assert.True(t, cfg.ShowKernelCycles)
	assert.True(t, cfg.TraceBlockedIO)
	assert.True(t, cfg.TraceDynamicBuffers)
	assert.Equal(t, timeout, cfg.SegmentTimeout)
}

func TestOverlay_Apply_UnknownConcurrency(t *testing.T) {
	concurrency := "warp-speed"
	ov := Overlay{Concurrency: &concurrency}
	_, err := ov.Apply(flowforge.DefaultConfig())
	assert.Error(t, err)
}

func TestLoadAndApply(t *testing.T) {
	path := writeOverlay(t, "concurrency: single\nrng_seed: 3\n")
	cfg, err := LoadAndApply(path)
	require.NoError(t, err)
	assert.Equal(t, flowforge.Single, cfg.Concurrency)
	assert.EqualValues(t, 3, cfg.RNGSeed)
	assert.Equal(t, flowforge.DefaultConfig().IRBuilder, cfg.IRBuilder)
}
