package webgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/wgpu"
	"github.com/gogpu/wgpu/core"
)

// Backend errors.
var (
	// ErrNoQueue is returned when a device was created without HAL
	// integration, which happens when no real GPU backend is linked in.
	ErrNoQueue = errors.New("webgpu: device has no queue (no HAL backend available)")

	// ErrCaptureNotStarted is returned by StopCapture without StartCapture.
	ErrCaptureNotStarted = errors.New("webgpu: capture was not started")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("webgpu: device is closed")
)

// mapErr translates a wgpu mapping error into the gpucore taxonomy. The
// original error stays in the chain.
func mapErr(err error) error {
	var sentinel error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wgpu.ErrMapAlreadyPending):
		sentinel = gpucore.ErrMapAlreadyPending
	case errors.Is(err, wgpu.ErrMapAlreadyMapped):
		sentinel = gpucore.ErrMapAlreadyMapped
	case errors.Is(err, wgpu.ErrMapNotMapped):
		sentinel = gpucore.ErrNotMapped
	case errors.Is(err, wgpu.ErrMapAlignment), errors.Is(err, wgpu.ErrMapRangeOverflow),
		errors.Is(err, wgpu.ErrMapRangeOverlap):
		sentinel = gpucore.ErrMapRange
	case errors.Is(err, wgpu.ErrMapInvalidMode):
		sentinel = gpucore.ErrInvalidUsage
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// createErr classifies a resource creation failure. Out-of-memory and size
// limit violations become gpucore.ErrResourceExhausted; everything else
// is wrapped with fallback.
func createErr(err, fallback error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, wgpu.ErrOutOfMemory) {
		return fmt.Errorf("%w: %w", gpucore.ErrResourceExhausted, err)
	}
	var cbe *core.CreateBufferError
	if errors.As(err, &cbe) {
		switch cbe.Kind {
		case core.CreateBufferErrorMaxBufferSize:
			return fmt.Errorf("%w: %w", gpucore.ErrResourceExhausted, err)
		case core.CreateBufferErrorZeroSize:
			return fmt.Errorf("%w: %w", gpucore.ErrInvalidBufferSize, err)
		case core.CreateBufferErrorEmptyUsage, core.CreateBufferErrorInvalidUsage,
			core.CreateBufferErrorMapReadWriteExclusive:
			return fmt.Errorf("%w: %w", gpucore.ErrInvalidUsage, err)
		}
	}
	if fallback == nil {
		return err
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

// statusOf converts the outcome of a resolved map into a MapStatus.
func statusOf(err error) gpucore.MapStatus {
	switch {
	case err == nil:
		return gpucore.MapStatusSuccess
	case errors.Is(err, wgpu.ErrMapCanceled):
		return gpucore.MapStatusCanceled
	case errors.Is(err, wgpu.ErrBufferDestroyed):
		return gpucore.MapStatusDestroyed
	case errors.Is(err, wgpu.ErrMapDeviceLost), errors.Is(err, wgpu.ErrDeviceLost):
		return gpucore.MapStatusDeviceLost
	default:
		return gpucore.MapStatusError
	}
}
