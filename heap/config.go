package heap

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joshuapare/cma/heap/leak"
	"github.com/joshuapare/cma/internal/format"
	"github.com/joshuapare/cma/internal/osmem"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDebug           = "CMA_DEBUG"
	EnvProtectMetadata = "CMA_PROTECT_METADATA"
	EnvBypass          = "CMA_BYPASS"
	EnvPageSize        = "CMA_PAGE_SIZE"
	EnvLogAlloc        = "CMA_LOG_ALLOC"
)

// Config selects the heap's strategies. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	Debug           bool    // guard bytes around every payload, poison on free
	ProtectMetadata bool    // PROT_NONE on header chunks outside the allocator lock
	Bypass          bool    // delegate to the system allocator; Debug and ProtectMetadata are ignored
	PageSize        uintptr // page granularity, a power of two raised to the OS page size; 0 = format.DefaultPageSize
	Limit           uintptr // initial allocation size limit, 0 = unlimited
	ThreadSafe      bool    // take the allocator lock on every call
	RetainPages     int     // empty pages kept mapped rather than released

	// LogAllocations emits a debug record per operation.
	LogAllocations bool

	// OnCorruption is called once, outside the lock, when corruption is
	// detected. The heap panics with the error if it returns.
	OnCorruption func(*CorruptionError)

	// LeakRecordLimit caps each thread's leak record list.
	LeakRecordLimit int

	// Logger receives allocation and corruption events. Nil follows
	// logger.L, including replacements made by logger.Init after New.
	Logger *slog.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:        format.DefaultPageSize,
		ThreadSafe:      true,
		RetainPages:     1,
		LeakRecordLimit: leak.DefaultRecordLimit,
		LogAllocations:  os.Getenv(EnvLogAlloc) != "",
	}
}

// ConfigFromEnv overlays the CMA_* environment variables on DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, b := range []struct {
		name string
		dst  *bool
	}{
		{EnvDebug, &cfg.Debug},
		{EnvProtectMetadata, &cfg.ProtectMetadata},
		{EnvBypass, &cfg.Bypass},
	} {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidArgument, b.name, v)
		}
		*b.dst = on
	}
	if v := os.Getenv(EnvPageSize); v != "" {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidArgument, EnvPageSize, v)
		}
		cfg.PageSize = uintptr(n)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.PageSize == 0 {
		c.PageSize = format.DefaultPageSize
	}
	if !format.IsPowerOfTwo(c.PageSize) || c.PageSize < format.MinBlockSize {
		return fmt.Errorf("%w: page size %d is not a power of two >= %d", ErrInvalidArgument, c.PageSize, format.MinBlockSize)
	}
	// Both are powers of two, so the result still is.
	c.PageSize = max(c.PageSize, uintptr(osmem.PageSize()))
	if c.RetainPages < 0 {
		return fmt.Errorf("%w: retain pages %d", ErrInvalidArgument, c.RetainPages)
	}
	if c.LeakRecordLimit < 0 {
		return fmt.Errorf("%w: leak record limit %d", ErrInvalidArgument, c.LeakRecordLimit)
	}
	if c.Bypass {
		c.Debug = false
		c.ProtectMetadata = false
	}
	return nil
}
