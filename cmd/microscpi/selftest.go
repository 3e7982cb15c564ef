package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/microscpi/capture"
	"github.com/ardnew/microscpi/host/usbtmc"
	"github.com/ardnew/microscpi/scpi"
)

// defaultScript exercises every subsystem present in the default
// configuration.
var defaultScript = []string{
	"*IDN?",
	"*RST",
	"SYSTem:VERSion?",
	"PIN6:MODE OUT",
	"PIN6:VAL 1",
	"PIN6:VAL?",
	"I2C0:SCAN?",
	"ROUTe:CLOSe (@101,203)",
	"ROUTe:CLOSe? (@101:103)",
	"ADC0:READ?",
	"*ESR?",
	"SYSTem:ERRor?",
}

func newSelftestCmd(opts *options) *cobra.Command {
	var (
		capturePath string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "selftest [MESSAGE...]",
		Short: "Drive the simulated instrument over USBTMC",
		Long: `Start the instrument's USBTMC function on an in-process controller
and drive it with the host client: read the capabilities, pulse the
indicator, clear the interface and run a script of program messages.
Messages given as arguments replace the built-in script.

With --capture the bulk traffic is written as a usbmon pcap that
"microscpi decode" and Wireshark can read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			script := defaultScript
			if len(args) > 0 {
				script = args
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return selftest(ctx, opts, cmd.OutOrStdout(), script, capturePath, timeout)
		},
	}
	cmd.Flags().StringVar(&capturePath, "capture", "", "write bulk traffic to this pcap file")
	cmd.Flags().DurationVar(&timeout, "timeout", usbtmc.DefaultTimeout, "per-transfer timeout")
	return cmd
}

func selftest(ctx context.Context, opts *options, w io.Writer, script []string, capturePath string, timeout time.Duration) error {
	b, err := newBench(opts.cfg, nil)
	if err != nil {
		return err
	}
	if err := b.start(ctx); err != nil {
		return err
	}
	defer b.stop()

	hcfg := b.hostConfig()
	hcfg.Timeout = timeout
	var pipe usbtmc.Pipe = b.usb
	if capturePath != "" {
		f, err := os.Create(capturePath)
		if err != nil {
			return err
		}
		defer f.Close()
		rec, err := capture.NewRecorder(f, pipe, 1, 1, hcfg)
		if err != nil {
			return err
		}
		pipe = rec
	}
	client := usbtmc.New(pipe, hcfg)

	caps, err := client.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	fmt.Fprintf(w, "protocol %s, term char %v, indicator pulse %v\n",
		caps.Protocol, caps.TermChar, caps.IndicatorPulse)
	if caps.IndicatorPulse {
		if err := client.Pulse(ctx); err != nil {
			return fmt.Errorf("pulse: %w", err)
		}
	}
	if err := client.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	if err := runScript(usbQuerier{ctx: ctx, client: client}, w, script); err != nil {
		return err
	}

	// Drain the error queue so failures in the script are visible.
	for range scpi.ErrorQueueSize {
		resp, err := client.Query(ctx, "SYST:ERR?")
		if err != nil {
			return err
		}
		resp = strings.TrimSpace(resp)
		if resp == scpi.ErrNone.String() {
			break
		}
		fmt.Fprintf(w, "error: %s\n", resp)
	}
	return nil
}
