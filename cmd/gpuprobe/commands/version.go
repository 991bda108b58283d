package commands

import (
	"fmt"
	"runtime"

	"github.com/gogpu/gpuprobe"
	"github.com/gogpu/gpuprobe/backend"
	"github.com/spf13/cobra"
)

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gpuprobe %s\n", gpuprobe.Version)
			fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  backends: %v\n", backend.Available())
		},
	}
}
