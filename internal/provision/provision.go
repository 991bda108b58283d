// Package provision places the probe's input data on the device.
//
// Two strategies produce the same device buffer:
//
//	MapAtCreation: CreateBuffer(MappedAtCreation) -> WriteMapped -> Unmap
//	UploadHelper:  CreateBufferInit
//
// MapAtCreation makes the upload an explicit write that memory-capturing
// debuggers record separately from the allocation. It needs the device to
// allow mapping of storage buffers (gpucore.FeatureMappablePrimaryBuffers).
package provision

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// Label is the debug label of the working buffer.
const Label = "Dbg data buffer"

// Strategy selects how input data reaches the device.
type Strategy int

const (
	// UploadHelper creates and fills the buffer in one device call.
	UploadHelper Strategy = iota

	// MapAtCreation creates the buffer mapped, writes through the mapping
	// and unmaps it.
	MapAtCreation
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case UploadHelper:
		return "upload-helper"
	case MapAtCreation:
		return "map-at-creation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == UploadHelper || s == MapAtCreation
}

// RequiredFeatures returns the device features the strategy depends on.
func (s Strategy) RequiredFeatures() gpucore.Features {
	if s == MapAtCreation {
		return gpucore.FeatureMappablePrimaryBuffers
	}
	return 0
}

// ParseStrategy parses a strategy name. Both the String form and the
// short forms "map" and "upload" are accepted.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "upload-helper", "upload", "init":
		return UploadHelper, nil
	case "map-at-creation", "map", "mapped":
		return MapAtCreation, nil
	default:
		return 0, fmt.Errorf("provision: unknown strategy %q", name)
	}
}

// Buffer is a provisioned working buffer.
type Buffer struct {
	ID       gpucore.BufferID
	Size     uint64
	Strategy Strategy
}

// Encode lays values out as consecutive native-endian u32 words.
func Encode(values []uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// CheckSize reports ErrResourceExhausted when a working buffer of size
// bytes cannot be created or bound as storage under lim.
func CheckSize(lim gpucore.Limits, size uint64) error {
	if size > lim.MaxBufferSize || size > lim.MaxStorageBufferBindingSize {
		return fmt.Errorf("%w: %d bytes exceeds buffer limit %d / binding limit %d",
			gpucore.ErrResourceExhausted, size, lim.MaxBufferSize, lim.MaxStorageBufferBindingSize)
	}
	return nil
}

// New returns a device buffer with Storage and CopySrc usage holding
// exactly values. On failure no buffer is left alive on the device.
func New(dev gpucore.Device, s Strategy, values []uint32) (Buffer, error) {
	if len(values) == 0 {
		return Buffer{}, fmt.Errorf("%w: no input values", gpucore.ErrInvalidBufferSize)
	}
	size := uint64(len(values)) * 4
	if err := CheckSize(dev.Limits(), size); err != nil {
		return Buffer{}, err
	}
	if need := s.RequiredFeatures(); !dev.Features().Contains(need) {
		return Buffer{}, fmt.Errorf("%w: %v strategy needs %v", gpucore.ErrFeatureMissing, s, need)
	}

	contents := Encode(values)
	var (
		id  gpucore.BufferID
		err error
	)
	switch s {
	case MapAtCreation:
		id, err = mapAtCreation(dev, contents)
	case UploadHelper:
		id, err = dev.CreateBufferInit(&gpucore.BufferDesc{
			Label: Label,
			Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc,
		}, contents)
	default:
		return Buffer{}, fmt.Errorf("provision: unknown strategy %v", s)
	}
	if err != nil {
		return Buffer{}, err
	}

	probelog.Logger().Debug("provision: working buffer ready",
		"strategy", s, "bytes", size, "elements", len(values))
	return Buffer{ID: id, Size: size, Strategy: s}, nil
}

func mapAtCreation(dev gpucore.Device, contents []byte) (gpucore.BufferID, error) {
	id, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label:            Label,
		Size:             uint64(len(contents)),
		Usage:            gpucore.BufferUsageStorage | gpucore.BufferUsageMapWrite | gpucore.BufferUsageCopySrc,
		MappedAtCreation: true,
	})
	if err != nil {
		return gpucore.InvalidID, err
	}
	if err := dev.WriteMapped(id, 0, contents); err != nil {
		dev.DestroyBuffer(id)
		return gpucore.InvalidID, fmt.Errorf("provision: write mapped range: %w", err)
	}
	if err := dev.Unmap(id); err != nil {
		dev.DestroyBuffer(id)
		return gpucore.InvalidID, fmt.Errorf("provision: unmap after write: %w", err)
	}
	return id, nil
}
