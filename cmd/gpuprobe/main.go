// Command gpuprobe runs a GPU compute round trip and prints what came back.
//
// Usage:
//
//	gpuprobe run                      # 64 values through the identity shader
//	gpuprobe run --strategy both      # compare both provisioning strategies
//	gpuprobe run --backend sim        # no GPU needed
//	gpuprobe adapters                 # list the adapters wgpu would pick
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/gpuprobe/cmd/gpuprobe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gpuprobe:", err)
		os.Exit(commands.ExitCode(err))
	}
}
