package heap

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cma/internal/format"
	"github.com/joshuapare/cma/internal/logger"
)

const testPageSize = 64 << 10

func newHeap(t testing.TB, opts ...func(*Config)) *Heap {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PageSize = testPageSize
	for _, o := range opts {
		o(&cfg)
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func withDebug(c *Config)  { c.Debug = true }
func withBypass(c *Config) { c.Bypass = true }

func requireValid(t testing.TB, h *Heap) {
	t.Helper()
	require.NoError(t, h.Validate())
}

func stats(t testing.TB, h *Heap) Stats {
	t.Helper()
	s, err := h.Stats()
	require.NoError(t, err)
	return s
}

// requireCorruption runs fn and checks it raised corruption of kind.
func requireCorruption(t *testing.T, kind CorruptionKind, fn func()) {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected a corruption panic")
	err, ok := got.(error)
	require.True(t, ok, "panic value %v is not an error", got)
	var ce *CorruptionError
	require.True(t, errors.As(err, &ce), "panic %v is not a CorruptionError", err)
	assert.Equal(t, kind, ce.Kind)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		mut  func(*Config)
	}{
		{"page size not power of two", func(c *Config) { c.PageSize = 3000 }},
		{"page size too small", func(c *Config) { c.PageSize = 16 }},
		{"negative retain", func(c *Config) { c.RetainPages = -1 }},
		{"negative leak limit", func(c *Config) { c.LeakRecordLimit = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestNew_BypassIgnoresDebug(t *testing.T) {
	h := newHeap(t, withBypass, withDebug, func(c *Config) { c.ProtectMetadata = true })
	cfg := h.Config()
	assert.True(t, cfg.Bypass)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.ProtectMetadata)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvPageSize, "0x40000")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, uintptr(256<<10), cfg.PageSize)

	t.Setenv(EnvBypass, "maybe")
	_, err = ConfigFromEnv()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Success, CodeOf(nil))
	assert.Equal(t, NoMemory, CodeOf(ErrNoMemory))
	assert.Equal(t, InvalidPointer, CodeOf(errors.Join(errors.New("x"), ErrInvalidPointer)))
	assert.Equal(t, InvalidState, CodeOf(errors.New("other")))
	assert.Equal(t, InvalidState, CodeOf(&CorruptionError{Kind: DoubleFree}))
	for _, c := range []Code{NoMemory, InvalidArgument, InvalidState, InvalidPointer, OutOfRange} {
		assert.Equal(t, c, CodeOf(c.Err()), c.String())
	}
}

func TestClose(t *testing.T) {
	h := newHeap(t)
	_, err := h.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Malloc(100)
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, h.Close(), ErrInvalidState)
}

func TestStats_PagesAndHeaders(t *testing.T) {
	h := newHeap(t)
	p, err := h.Malloc(100)
	require.NoError(t, err)

	s := stats(t, h)
	assert.Equal(t, 1, s.Pages)
	assert.Equal(t, uintptr(testPageSize), s.BytesMapped)
	assert.Equal(t, 2, s.Headers, "allocated block plus free tail")
	assert.Equal(t, uint64(format.Align16(100)), s.CurrentBytes)

	pages, err := h.PageStats()
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Blocks)
	assert.Equal(t, 1, pages[0].FreeBlocks)
	assert.Equal(t, uintptr(testPageSize)-format.Align16(100), pages[0].FreeBytes)

	require.NoError(t, h.Free(p))
	assert.Equal(t, 1, h.PageCount(), "one empty page is retained")
}

func TestLogger_FollowsLaterInit(t *testing.T) {
	prev := logger.L
	t.Cleanup(func() { logger.L = prev })

	h := newHeap(t, func(c *Config) { c.LogAllocations = true })

	var out bytes.Buffer
	logger.Init(logger.Options{Enabled: true, Writer: &out, Level: slog.LevelDebug})
	p, err := h.Malloc(24)
	require.NoError(t, err)
	require.NoError(t, h.Free(p))

	assert.Contains(t, out.String(), "cma malloc")
	assert.Contains(t, out.String(), "cma free")
}

func TestLogger_ConfiguredWins(t *testing.T) {
	prev := logger.L
	t.Cleanup(func() { logger.L = prev })

	var own, global bytes.Buffer
	h := newHeap(t, func(c *Config) {
		c.LogAllocations = true
		c.Logger = logger.New(logger.Options{Enabled: true, Writer: &own, Level: slog.LevelDebug})
	})
	logger.Init(logger.Options{Enabled: true, Writer: &global, Level: slog.LevelDebug})

	p, err := h.Malloc(24)
	require.NoError(t, err)
	require.NoError(t, h.Free(p))
	assert.Contains(t, own.String(), "cma malloc")
	assert.Zero(t, global.Len())
}
