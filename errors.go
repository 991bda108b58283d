package gpuprobe

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
)

// Failure classes. Every error returned by Run matches exactly one of these
// with errors.Is, or none when the failure is a usage error.
var (
	// ErrAdapterUnavailable means no compatible GPU adapter was found.
	ErrAdapterUnavailable = gpucore.ErrAdapterUnavailable

	// ErrDeviceCreationFailed means feature or limit negotiation failed.
	ErrDeviceCreationFailed = gpucore.ErrDeviceCreationFailed

	// ErrResourceExhausted means a buffer or pipeline allocation failed.
	ErrResourceExhausted = gpucore.ErrResourceExhausted

	// ErrShaderCompilation means the shader failed to build against the
	// binding layout.
	ErrShaderCompilation = gpucore.ErrShaderCompilation

	// ErrMappingFailed means the staging buffer mapping resolved with an error.
	ErrMappingFailed = gpucore.ErrMappingFailed

	// ErrCompletionNeverSignaled means the mapping did not complete in time.
	ErrCompletionNeverSignaled = gpucore.ErrCompletionNeverSignaled
)

var (
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("gpuprobe: invalid configuration")

	// ErrStrategyMismatch is returned when two provisioning strategies
	// read back different data.
	ErrStrategyMismatch = errors.New("gpuprobe: provisioning strategies disagree")
)

// ErrorKind classifies a failed run.
type ErrorKind int

const (
	// KindUnknown is a failure outside the taxonomy, typically misuse.
	KindUnknown ErrorKind = iota
	KindAdapterUnavailable
	KindDeviceCreationFailed
	KindResourceExhausted
	KindShaderCompilation
	KindMappingFailed
	KindCompletionNeverSignaled
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindAdapterUnavailable:
		return "AdapterUnavailable"
	case KindDeviceCreationFailed:
		return "DeviceCreationFailed"
	case KindResourceExhausted:
		return "DeviceResourceExhausted"
	case KindShaderCompilation:
		return "ShaderCompilationFailed"
	case KindMappingFailed:
		return "MappingFailed"
	case KindCompletionNeverSignaled:
		return "CompletionNeverSignaled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// KindOf classifies err. A missing device feature counts as a device
// creation failure: the device was negotiated without it.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, gpucore.ErrAdapterUnavailable):
		return KindAdapterUnavailable
	case errors.Is(err, gpucore.ErrDeviceCreationFailed), errors.Is(err, gpucore.ErrFeatureMissing):
		return KindDeviceCreationFailed
	case errors.Is(err, gpucore.ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, gpucore.ErrShaderCompilation):
		return KindShaderCompilation
	case errors.Is(err, gpucore.ErrMappingFailed):
		return KindMappingFailed
	case errors.Is(err, gpucore.ErrCompletionNeverSignaled):
		return KindCompletionNeverSignaled
	default:
		return KindUnknown
	}
}

// Stage names the step of the round trip that failed.
type Stage int

const (
	StageConfig Stage = iota
	StageDevice
	StageProvision
	StagePipeline
	StageCompose
	StageSubmit
	StageReadback
	StageDecode
	StageCapture
	StageCompare
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	switch s {
	case StageConfig:
		return "config"
	case StageDevice:
		return "device"
	case StageProvision:
		return "provision"
	case StagePipeline:
		return "pipeline"
	case StageCompose:
		return "compose"
	case StageSubmit:
		return "submit"
	case StageReadback:
		return "readback"
	case StageDecode:
		return "decode"
	case StageCapture:
		return "capture"
	case StageCompare:
		return "compare"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// StageError reports which stage of a run failed and how.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Kind == KindUnknown {
		return fmt.Sprintf("gpuprobe: %v stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gpuprobe: %v stage failed (%v): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// DeviceError wraps a failure to open a device as a StageDevice error so
// it is reported like any other failed stage.
func DeviceError(err error) error {
	return stageError(StageDevice, err)
}

// stageError wraps err for stage. An existing StageError is kept as is.
func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Kind: KindOf(err), Err: err}
}
