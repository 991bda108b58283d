package gpuprobe

import (
	"fmt"
	"time"

	"github.com/gogpu/gpuprobe/internal/provision"
	"github.com/gogpu/gpuprobe/internal/readback"
)

// Strategy selects how input data reaches the device.
type Strategy = provision.Strategy

// Provisioning strategies.
const (
	// UploadHelper creates and fills the working buffer in one call.
	UploadHelper = provision.UploadHelper

	// MapAtCreation creates the working buffer mapped and writes through
	// the mapping, so GPU debuggers capture the upload as a distinct write.
	MapAtCreation = provision.MapAtCreation
)

// ParseStrategy parses "upload-helper" or "map-at-creation" (or the short
// forms "upload" and "map").
func ParseStrategy(name string) (Strategy, error) {
	return provision.ParseStrategy(name)
}

// Defaults.
const (
	DefaultElementCount  = 64
	DefaultWorkgroupSize = 8
	DefaultTimeout       = readback.DefaultTimeout
	DefaultEntryPoint    = "main"
	DefaultFirstValue    = 100
)

// Config describes one round trip.
type Config struct {
	// ElementCount is the number of u32 values in the working and staging
	// buffers.
	ElementCount uint32

	// WorkgroupSize is the dispatch granularity along X.
	WorkgroupSize uint32

	// Strategy selects the provisioning path.
	Strategy Strategy

	// Timeout bounds the wait for the mapping. Zero means no bound.
	Timeout time.Duration

	// Shader is WGSL source with a read_write storage buffer at
	// @group(0) @binding(0), and EntryPoint its compute entry point.
	Shader     string
	EntryPoint string

	// FirstValue is the first value of the input sequence.
	FirstValue uint32

	// Capture brackets the run with a debugger capture.
	Capture bool
}

// DefaultConfig returns the configuration of the reference probe:
// 64 values from 100, workgroups of 8, the upload helper and the
// embedded identity shader.
func DefaultConfig() Config {
	return Config{
		ElementCount:  DefaultElementCount,
		WorkgroupSize: DefaultWorkgroupSize,
		Strategy:      UploadHelper,
		Timeout:       DefaultTimeout,
		Shader:        IdentityShader,
		EntryPoint:    DefaultEntryPoint,
		FirstValue:    DefaultFirstValue,
	}
}

// NewConfig applies opts to DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.ElementCount == 0:
		return fmt.Errorf("%w: element count must be greater than zero", ErrInvalidConfig)
	case c.WorkgroupSize == 0:
		return fmt.Errorf("%w: workgroup size must be greater than zero", ErrInvalidConfig)
	case !c.Strategy.Valid():
		return fmt.Errorf("%w: unknown strategy %v", ErrInvalidConfig, c.Strategy)
	case c.Timeout < 0:
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidConfig, c.Timeout)
	case c.Shader == "":
		return fmt.Errorf("%w: shader source is empty", ErrInvalidConfig)
	case c.EntryPoint == "":
		return fmt.Errorf("%w: entry point is empty", ErrInvalidConfig)
	}
	return nil
}

// BufferSize returns the size in bytes of the working and staging buffers.
func (c Config) BufferSize() uint64 {
	return uint64(c.ElementCount) * 4
}
