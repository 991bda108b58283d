// Package compose records the probe's single command sequence:
//
//	BeginComputePass
//	  SetPipeline, SetBindGroup(0), Dispatch(ceil(n/wg), 1, 1)
//	End
//	CopyBufferToBuffer(working -> staging)
//	Finish
//
// The pass is only reachable inside the closure given to InPass, and the
// composer ends it before the copy is recorded.
package compose

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// Debug labels.
const (
	EncoderLabel = "Dbg Command Encoder"
	PassLabel    = "Dbg Compute Pass"
)

// ErrZeroWorkgroup is returned by DispatchCount for a zero workgroup size.
var ErrZeroWorkgroup = errors.New("compose: workgroup size must be greater than zero")

// DispatchCount returns the number of workgroups needed to cover n
// elements, rounding up.
func DispatchCount(n, workgroupSize uint32) (uint32, error) {
	if workgroupSize == 0 {
		return 0, ErrZeroWorkgroup
	}
	return uint32((uint64(n) + uint64(workgroupSize) - 1) / uint64(workgroupSize)), nil
}

// Job describes one round trip.
type Job struct {
	Pipeline  gpucore.ComputePipelineID
	BindGroup gpucore.BindGroupID

	Working gpucore.BufferID
	Staging gpucore.BufferID
	Size    uint64

	Elements      uint32
	WorkgroupSize uint32
}

// Recorded is a sealed command sequence and the dispatch it contains.
type Recorded struct {
	Commands gpucore.CommandBufferID
	Dispatch [3]uint32
}

// InPass begins a compute pass on enc, runs record, and ends the pass on
// every path. The encoder accepts new commands only after InPass returns.
func InPass(enc gpucore.CommandEncoder, label string, record func(gpucore.ComputePassEncoder) error) error {
	pass, err := enc.BeginComputePass(label)
	if err != nil {
		return fmt.Errorf("compose: begin compute pass: %w", err)
	}
	recErr := record(pass)
	endErr := pass.End()
	if recErr != nil {
		return recErr
	}
	if endErr != nil {
		return fmt.Errorf("compose: end compute pass: %w", endErr)
	}
	return nil
}

// Record encodes the job into a sealed command buffer. On failure the
// encoder is discarded and nothing is left to submit.
func Record(dev gpucore.Device, job Job) (Recorded, error) {
	groups, err := DispatchCount(job.Elements, job.WorkgroupSize)
	if err != nil {
		return Recorded{}, err
	}
	if limit := dev.Limits().MaxComputeWorkgroupsPerDimension; groups > limit {
		return Recorded{}, fmt.Errorf("%w: compose: %d workgroups exceeds device limit %d",
			gpucore.ErrResourceExhausted, groups, limit)
	}

	enc, err := dev.CreateCommandEncoder(EncoderLabel)
	if err != nil {
		return Recorded{}, fmt.Errorf("compose: create encoder: %w", err)
	}

	err = InPass(enc, PassLabel, func(pass gpucore.ComputePassEncoder) error {
		if err := pass.SetPipeline(job.Pipeline); err != nil {
			return fmt.Errorf("compose: set pipeline: %w", err)
		}
		if err := pass.SetBindGroup(0, job.BindGroup); err != nil {
			return fmt.Errorf("compose: set bind group: %w", err)
		}
		if err := pass.Dispatch(groups, 1, 1); err != nil {
			return fmt.Errorf("compose: dispatch: %w", err)
		}
		return nil
	})
	if err != nil {
		enc.Discard()
		return Recorded{}, err
	}

	if err := enc.CopyBufferToBuffer(job.Working, 0, job.Staging, 0, job.Size); err != nil {
		enc.Discard()
		return Recorded{}, fmt.Errorf("compose: copy to staging: %w", err)
	}

	cmd, err := enc.Finish()
	if err != nil {
		return Recorded{}, fmt.Errorf("compose: finish: %w", err)
	}

	probelog.Logger().Debug("compose: recorded",
		"workgroups", groups, "workgroup_size", job.WorkgroupSize, "elements", job.Elements, "copy_bytes", job.Size)
	return Recorded{Commands: cmd, Dispatch: [3]uint32{groups, 1, 1}}, nil
}
