package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gogpu/gpuprobe"
	"github.com/gogpu/gpuprobe/backend"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/spf13/cobra"
	"golang.org/x/text/message"
)

func (a *app) newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the compute round trip",
		Long: `Run uploads a sequence of u32 values, dispatches the compute shader over
it, copies the result into a staging buffer, maps it and prints the values.

The exit status is non-zero when any stage fails or the values read back
differ from the input.`,
		Example: `  gpuprobe run
  gpuprobe run --strategy both --elements 65
  gpuprobe run --backend sim --capture`,
		Args: cobra.NoArgs,
		RunE: a.runProbe,
	}

	flags := cmd.Flags()
	flags.String("strategy", "upload", "provisioning strategy: upload, map or both")
	flags.Uint32("elements", gpuprobe.DefaultElementCount, "number of u32 values")
	flags.Uint32("workgroup", gpuprobe.DefaultWorkgroupSize, "workgroup size along X")
	flags.Uint32("first", gpuprobe.DefaultFirstValue, "first value of the input sequence")
	flags.Duration("timeout", gpuprobe.DefaultTimeout, "bound on the wait for the mapping (0 for none)")
	flags.Bool("capture", false, "bracket the run with a debugger capture")
	flags.Bool("downlevel", true, "request downlevel limits (--downlevel=false for the adapter defaults)")
	flags.Bool("fallback", false, "force the fallback (software) adapter")
	for _, name := range []string{"strategy", "elements", "workgroup", "first", "timeout", "capture", "downlevel", "fallback"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

// strategies parses the --strategy value.
func strategies(name string) ([]gpuprobe.Strategy, error) {
	if strings.EqualFold(name, "both") {
		return []gpuprobe.Strategy{gpuprobe.UploadHelper, gpuprobe.MapAtCreation}, nil
	}
	s, err := gpuprobe.ParseStrategy(name)
	if err != nil {
		return nil, err
	}
	return []gpuprobe.Strategy{s}, nil
}

func (a *app) runProbe(cmd *cobra.Command, _ []string) error {
	v := a.v
	list, err := strategies(v.GetString("strategy"))
	if err != nil {
		return err
	}

	opts := backend.Options{
		Downlevel:     v.GetBool("downlevel"),
		ForceFallback: v.GetBool("fallback"),
	}
	for _, s := range list {
		if s.RequiredFeatures() != 0 {
			opts.RequireMappable = true
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dev, err := a.openDevice(ctx, opts)
	if err != nil {
		return err
	}
	defer dev.Close()

	results, err := gpuprobe.RunStrategies(ctx, dev, list,
		gpuprobe.WithElementCount(v.GetUint32("elements")),
		gpuprobe.WithWorkgroupSize(v.GetUint32("workgroup")),
		gpuprobe.WithFirstValue(v.GetUint32("first")),
		gpuprobe.WithTimeout(v.GetDuration("timeout")),
		gpuprobe.WithCapture(v.GetBool("capture")),
	)

	out := cmd.OutOrStdout()
	p := a.printer()
	for _, res := range results {
		report(out, p, res)
	}
	if err != nil {
		return err
	}
	for _, res := range results {
		if !res.Identity() {
			return fmt.Errorf("%v: values read back differ from the input", res.Strategy)
		}
	}
	return nil
}

// openDevice opens the configured backend. An unknown backend name is a
// usage error; a backend that fails to open is a failed device stage.
func (a *app) openDevice(ctx context.Context, opts backend.Options) (gpucore.Device, error) {
	name := a.v.GetString("backend")
	if name == "" || strings.EqualFold(name, "auto") {
		dev, err := backend.Default(ctx, opts)
		return dev, gpuprobe.DeviceError(err)
	}
	if !backend.IsRegistered(name) {
		return nil, fmt.Errorf("%w: %q (registered: %v)", backend.ErrBackendNotAvailable, name, backend.Available())
	}
	dev, err := backend.Open(ctx, name, opts)
	return dev, gpuprobe.DeviceError(err)
}

// report prints one result: the values on the first line, a summary on
// the second.
func report(w io.Writer, p *message.Printer, res *gpuprobe.Result) {
	fmt.Fprintf(w, "Results: %s\n", formatValues(res.Values))
	p.Fprintf(w, "%v on %q: %d values, %d workgroups of %d, identity=%t, %v\n",
		res.Strategy, res.Adapter.Name, len(res.Values),
		res.Dispatch[0], res.Workgroup[0], res.Identity(), res.Elapsed)
}

// formatValues renders values as "[100, 101, 102]".
func formatValues(values []uint32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprint(&b, v)
	}
	b.WriteByte(']')
	return b.String()
}
