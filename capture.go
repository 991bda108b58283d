package gpuprobe

import "github.com/gogpu/gpuprobe/gpucore"

// CaptureScope runs fn inside a debugger capture bracket. StopCapture runs
// on every path out of fn, including a panic. A StopCapture error is
// logged and returned only when fn itself succeeded.
func CaptureScope(dev gpucore.Device, fn func() error) (err error) {
	dev.StartCapture()
	Logger().Debug("gpuprobe: capture started")
	defer func() {
		serr := dev.StopCapture()
		if serr == nil {
			Logger().Debug("gpuprobe: capture stopped")
			return
		}
		Logger().Warn("gpuprobe: stop capture", "err", serr)
		if err == nil {
			err = stageError(StageCapture, serr)
		}
	}()
	return fn()
}
