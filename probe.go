package gpuprobe

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/compose"
	"github.com/gogpu/gpuprobe/internal/pipeline"
	"github.com/gogpu/gpuprobe/internal/provision"
	"github.com/gogpu/gpuprobe/internal/readback"
)

// StagingLabel is the debug label of the host-readable staging buffer.
const StagingLabel = "Dbg download buffer"

// Result is the outcome of one round trip.
type Result struct {
	// Input is the sequence uploaded to the device.
	Input []uint32

	// Values is the sequence read back from the staging buffer.
	Values []uint32

	Strategy  Strategy
	Dispatch  [3]uint32
	Workgroup [3]uint32
	Adapter   gpucore.AdapterInfo
	Elapsed   time.Duration
}

// Identity reports whether the read-back values equal the input.
func (r *Result) Identity() bool {
	return slices.Equal(r.Input, r.Values)
}

// Run performs one round trip on dev:
//
//	provision -> pipeline -> compose -> submit -> map -> wait -> decode
//
// Every failure is returned as a *StageError naming the stage. Device
// objects created by Run are released in reverse order before it returns.
func Run(ctx context.Context, dev gpucore.Device, opts ...Option) (*Result, error) {
	return RunConfig(ctx, dev, NewConfig(opts...))
}

// RunConfig is Run with an explicit configuration.
func RunConfig(ctx context.Context, dev gpucore.Device, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, stageError(StageConfig, err)
	}
	if !cfg.Capture {
		return run(ctx, dev, cfg)
	}
	var res *Result
	err := CaptureScope(dev, func() error {
		var err error
		res, err = run(ctx, dev, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func run(ctx context.Context, dev gpucore.Device, cfg Config) (*Result, error) {
	start := time.Now()
	info := dev.Info()
	Logger().Info("gpuprobe: run",
		"adapter", info.Name, "backend", info.Backend, "device_type", info.DeviceType,
		"strategy", cfg.Strategy, "elements", cfg.ElementCount)

	// Fail on oversized runs before the host sequence is allocated.
	if err := provision.CheckSize(dev.Limits(), cfg.BufferSize()); err != nil {
		return nil, stageError(StageProvision, err)
	}
	input := Sequence(cfg.FirstValue, cfg.ElementCount)

	work, err := provision.New(dev, cfg.Strategy, input)
	if err != nil {
		return nil, stageError(StageProvision, err)
	}
	defer dev.DestroyBuffer(work.ID)

	staging, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: StagingLabel,
		Size:  work.Size,
		Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead,
	})
	if err != nil {
		return nil, stageError(StageProvision, err)
	}
	defer dev.DestroyBuffer(staging)

	pl, err := pipeline.Build(dev, cfg.Shader, cfg.EntryPoint)
	if err != nil {
		return nil, stageError(StagePipeline, err)
	}
	defer pl.Release()

	if wg := pl.Reflection.WorkgroupSize(); wg != cfg.WorkgroupSize {
		return nil, stageError(StagePipeline, fmt.Errorf("%w: shader declares @workgroup_size(%d), configured %d",
			ErrShaderCompilation, wg, cfg.WorkgroupSize))
	}
	if err := pl.Bind(work.ID, work.Size); err != nil {
		return nil, stageError(StagePipeline, err)
	}

	rec, err := compose.Record(dev, compose.Job{
		Pipeline:      pl.Pipeline,
		BindGroup:     pl.BindGroup,
		Working:       work.ID,
		Staging:       staging,
		Size:          work.Size,
		Elements:      cfg.ElementCount,
		WorkgroupSize: cfg.WorkgroupSize,
	})
	if err != nil {
		return nil, stageError(StageCompose, err)
	}

	syn := readback.NewSynchronizer(dev, readback.WithTimeout(cfg.Timeout))
	if err := syn.Submit(rec.Commands); err != nil {
		dev.DestroyCommandBuffer(rec.Commands)
		return nil, stageError(StageSubmit, err)
	}

	req, err := syn.RequestMap(staging, 0, work.Size)
	if err != nil {
		return nil, stageError(StageReadback, err)
	}
	mapped, err := req.Wait(ctx)
	if err != nil {
		return nil, stageError(StageReadback, err)
	}
	values, err := mapped.Decode()
	if err != nil {
		return nil, stageError(StageDecode, err)
	}

	res := &Result{
		Input:     input,
		Values:    values,
		Strategy:  cfg.Strategy,
		Dispatch:  rec.Dispatch,
		Workgroup: pl.Reflection.Workgroup,
		Adapter:   info,
		Elapsed:   time.Since(start),
	}
	Logger().Debug("gpuprobe: round trip complete",
		"strategy", cfg.Strategy, "dispatch", rec.Dispatch, "identity", res.Identity(), "elapsed", res.Elapsed)
	return res, nil
}

// RunStrategies runs the round trip once per strategy on the same device
// and checks that every strategy read back the same values.
func RunStrategies(ctx context.Context, dev gpucore.Device, strategies []Strategy, opts ...Option) ([]*Result, error) {
	results := make([]*Result, 0, len(strategies))
	for _, s := range strategies {
		res, err := Run(ctx, dev, append(slices.Clone(opts), WithStrategy(s))...)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if err := Equivalent(results...); err != nil {
		return results, err
	}
	return results, nil
}

// Equivalent returns ErrStrategyMismatch, wrapped in a StageError, when
// the results do not all hold the same values.
func Equivalent(results ...*Result) error {
	if len(results) < 2 {
		return nil
	}
	ref := results[0]
	for _, r := range results[1:] {
		if !slices.Equal(ref.Values, r.Values) {
			return stageError(StageCompare, fmt.Errorf("%w: %v read %d values, %v read %d",
				ErrStrategyMismatch, ref.Strategy, len(ref.Values), r.Strategy, len(r.Values)))
		}
	}
	return nil
}
