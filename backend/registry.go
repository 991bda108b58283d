package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Opener)
	// Priority order for backend selection (first that opens wins).
	// Real hardware first, the simulator as fallback.
	backendPriority = []string{BackendWGPU, BackendSim}
)

// Register registers a backend opener with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = open
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device on the named backend.
func Open(ctx context.Context, name string, opts Options) (gpucore.Device, error) {
	registryMu.RLock()
	open, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	return open(ctx, opts)
}

// Default opens a device on the best available backend.
// Backends are tried in priority order (wgpu, then sim), followed by any
// other registered backend in name order. The first backend that opens
// wins; if none does, the returned error joins every failure.
func Default(ctx context.Context, opts Options) (gpucore.Device, error) {
	var errs []error
	for _, name := range order() {
		dev, err := Open(ctx, name, opts)
		if err == nil {
			probelog.Logger().Debug("backend: selected", "backend", name)
			return dev, nil
		}
		probelog.Logger().Debug("backend: unavailable", "backend", name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, errors.Join(append([]error{ErrBackendNotAvailable}, errs...)...)
}

// order returns registered names in selection order.
func order() []string {
	names := Available()
	out := make([]string, 0, len(names))
	for _, name := range backendPriority {
		if slices.Contains(names, name) {
			out = append(out, name)
		}
	}
	for _, name := range names {
		if !slices.Contains(backendPriority, name) {
			out = append(out, name)
		}
	}
	return out
}
