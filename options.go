package gpuprobe

import "time"

// Option configures a probe run.
// Use functional options to customize Run behavior.
//
// Example:
//
//	// Default run: 64 values from 100, upload helper, 5s timeout
//	res, err := gpuprobe.Run(ctx, dev)
//
//	// Debugger-friendly upload with capture bracketing
//	res, err := gpuprobe.Run(ctx, dev,
//	    gpuprobe.WithStrategy(gpuprobe.MapAtCreation),
//	    gpuprobe.WithCapture(true))
type Option func(*Config)

// WithStrategy selects how input data reaches the device.
//
// MapAtCreation needs a device created with mappable primary buffers.
func WithStrategy(s Strategy) Option {
	return func(c *Config) {
		c.Strategy = s
	}
}

// WithTimeout bounds the wait for the staging buffer mapping.
// Zero leaves only the context deadline in effect.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithWorkgroupSize sets the dispatch granularity. It must match the
// @workgroup_size the shader declares.
func WithWorkgroupSize(n uint32) Option {
	return func(c *Config) {
		c.WorkgroupSize = n
	}
}

// WithElementCount sets the number of u32 values in the round trip.
func WithElementCount(n uint32) Option {
	return func(c *Config) {
		c.ElementCount = n
	}
}

// WithShader replaces the embedded identity shader.
//
// Example:
//
//	gpuprobe.Run(ctx, dev, gpuprobe.WithShader(src, "cs_main"))
func WithShader(source, entryPoint string) Option {
	return func(c *Config) {
		c.Shader = source
		c.EntryPoint = entryPoint
	}
}

// WithCapture brackets the run with StartCapture/StopCapture.
func WithCapture(enabled bool) Option {
	return func(c *Config) {
		c.Capture = enabled
	}
}

// WithFirstValue sets the first value of the input sequence.
func WithFirstValue(v uint32) Option {
	return func(c *Config) {
		c.FirstValue = v
	}
}
