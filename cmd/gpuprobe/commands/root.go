// Package commands implements the gpuprobe command line.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gogpu/gpuprobe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	// Device backends.
	_ "github.com/gogpu/gpuprobe/backend/sim"
	_ "github.com/gogpu/gpuprobe/backend/webgpu"
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// ExitCode maps a run error to a process exit code: 2 for a failed probe
// stage, 1 for anything else.
func ExitCode(err error) int {
	var se *gpuprobe.StageError
	if errors.As(err, &se) {
		return 2
	}
	return 1
}

// app holds the state shared by the subcommands of one root command.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCommand builds a fresh command tree with its own configuration.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "gpuprobe",
		Short: "GPU compute round-trip probe",
		Long: `gpuprobe uploads a known sequence of u32 values to the GPU, runs an
identity compute shader over it, copies the result into a host-readable
staging buffer and prints what came back.

Run it under a graphics debugger to inspect the buffers at every step, or
compare the two provisioning strategies to find driver upload bugs.`,
		Version:       gpuprobe.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			a.initLogging()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.gpuprobe/config.yaml)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("backend", "auto", "device backend: auto, wgpu or sim")
	flags.String("lang", "en", "language for number formatting in reports")
	for _, name := range []string{"verbose", "backend", "lang"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(a.newRunCommand(), a.newAdaptersCommand(), a.newVersionCommand())
	return root
}

// initConfig reads in the config file and GPUPROBE_* environment variables.
func (a *app) initConfig() error {
	v := a.v
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gpuprobe"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("GPUPROBE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) initLogging() {
	level := slog.LevelWarn
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gpuprobe.SetLogger(l)
	if f := a.v.ConfigFileUsed(); f != "" {
		l.Debug("using config file", "path", f)
	}
}

// printer formats numbers for the configured language.
func (a *app) printer() *message.Printer {
	tag, err := language.Parse(a.v.GetString("lang"))
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}
