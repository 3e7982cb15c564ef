package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ardnew/microscpi/config"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/pkg/prof"
)

// component identifies this executable for structured logging.
const component = pkg.Component("microscpi")

const version = "0.1.0"

// options holds the global flags and the configuration they select.
type options struct {
	configPath string
	verbose    bool
	jsonLog    bool
	cpuProfile string
	memProfile string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "microscpi",
		Short: "SCPI instrument over USBTMC, serial and WebSocket",
		Long: `microscpi runs a SCPI instrument on simulated hardware and talks to
instruments over USBTMC, a serial console or WebSocket.

The instrument answers IEEE 488.2 common commands, SYSTem:ERRor and the
PIN, I2C, SPI, ADC, MACHINE and ROUTe subsystems. Its USBTMC function
runs on an in-process controller that selftest drives end to end.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			if opts.cpuProfile != "" {
				return prof.StartCPU(opts.cpuProfile)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if err := prof.StopCPU(); err != nil {
				return err
			}
			if opts.memProfile != "" {
				return prof.Write(prof.ProfileHeap, opts.memProfile)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose (debug) logging")
	flags.BoolVar(&opts.jsonLog, "json", false, "use JSON log format")
	flags.StringVar(&opts.cpuProfile, "cpuprofile", "", "write a CPU profile (profile builds only)")
	flags.StringVar(&opts.memProfile, "memprofile", "", "write a heap profile on exit (profile builds only)")

	root.AddCommand(
		newServeCmd(opts),
		newConsoleCmd(opts),
		newSelftestCmd(opts),
		newQueryCmd(opts),
		newListCmd(opts),
		newDecodeCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the configuration and applies its logging settings. Flags
// override the file.
func (o *options) load() error {
	if o.configPath == "" {
		o.cfg = config.CreateDefaultConfig()
	} else {
		cfg, err := config.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}

	level, err := pkg.ParseLogLevel(o.cfg.Log.Level)
	if err != nil {
		return err
	}
	if o.verbose {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	format, err := pkg.ParseLogFormat(o.cfg.Log.Format)
	if err != nil {
		return err
	}
	if o.jsonLog {
		format = pkg.LogFormatJSON
	}
	pkg.SetLogFormat(format)
	return nil
}
