package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/microscpi/capture"
)

func newDecodeCmd(opts *options) *cobra.Command {
	var filter capture.Filter
	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Print the USBTMC transfers in a usbmon capture",
		Long: `Read a pcap file recorded with usbmon (or by "microscpi selftest
--capture") and print one line per USBTMC bulk transfer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			d, err := capture.NewDecoder(f, filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			n := 0
			for {
				t, err := d.Next()
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					return err
				}
				fmt.Fprintln(w, t)
				n++
			}
			fmt.Fprintf(w, "%d transfers, %d packets skipped\n", n, d.Skipped())
			return nil
		},
	}
	cmd.Flags().Uint16Var(&filter.Bus, "bus", 0, "only transfers on this bus")
	cmd.Flags().Uint8Var(&filter.Device, "device", 0, "only transfers to this device address")
	return cmd
}
