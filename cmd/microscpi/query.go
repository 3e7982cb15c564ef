package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/microscpi/host/usbtmc"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/transport/serial"
	"github.com/ardnew/microscpi/transport/ws"
)

func newQueryCmd(opts *options) *cobra.Command {
	var (
		port    string
		baud    int
		url     string
		usbID   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query MESSAGE...",
		Short: "Send program messages to an instrument",
		Long: `Send each message to an instrument and print the responses to
queries. Exactly one of --port, --url or --usb selects the instrument.`,
		Example: `  microscpi query --port /dev/ttyACM0 '*IDN?'
  microscpi query --url ws://127.0.0.1:5025/scpi 'PIN6:MODE OUT' 'PIN6:VAL 1'
  microscpi query --usb 2e8a:000a 'SYST:ERR?'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := 0
			for _, s := range []string{port, url, usbID} {
				if s != "" {
					selected++
				}
			}
			if selected != 1 {
				return fmt.Errorf("%w: select one of --port, --url or --usb", pkg.ErrInvalidParameter)
			}

			q, closer, err := dial(cmd.Context(), port, baud, url, usbID, timeout)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runScript(q, cmd.OutOrStdout(), args)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port of the instrument console")
	cmd.Flags().IntVarP(&baud, "baud", "b", serial.DefaultBaudRate, "serial baud rate")
	cmd.Flags().StringVarP(&url, "url", "u", "", "websocket URL of the instrument")
	cmd.Flags().StringVar(&usbID, "usb", "", "VID:PID of a USBTMC instrument")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", usbtmc.DefaultTimeout, "response timeout")
	return cmd
}

func dial(ctx context.Context, port string, baud int, url, usbID string, timeout time.Duration) (querier, io.Closer, error) {
	switch {
	case port != "":
		c, err := serial.Dial(port, baud, timeout)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case url != "":
		c, err := ws.Dial(ctx, url, timeout)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}

	vid, pid, err := parseUSBID(usbID)
	if err != nil {
		return nil, nil, err
	}
	cfg := usbtmc.DefaultConfig()
	cfg.Timeout = timeout
	d, err := usbtmc.Open(vid, pid, cfg)
	if err != nil {
		return nil, nil, err
	}
	pkg.LogDebug(component, "usbtmc device", "device", d.Info().String())
	return usbQuerier{ctx: ctx, client: d.Client}, d, nil
}

// parseUSBID parses a hexadecimal VID:PID pair.
func parseUSBID(s string) (vid, pid uint16, err error) {
	v, p, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: usb id %q is not VID:PID", pkg.ErrInvalidParameter, s)
	}
	vv, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: vendor id %q", pkg.ErrInvalidParameter, v)
	}
	pp, err := strconv.ParseUint(p, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: product id %q", pkg.ErrInvalidParameter, p)
	}
	return uint16(vv), uint16(pp), nil
}
