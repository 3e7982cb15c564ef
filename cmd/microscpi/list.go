package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/microscpi/host/usbtmc"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/pkg/usbid"
	"github.com/ardnew/microscpi/transport/serial"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List serial ports and USBTMC instruments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			ports, err := serial.Ports()
			if err != nil {
				pkg.LogWarn(component, "serial enumeration failed", "error", err)
			}
			for _, p := range ports {
				fmt.Fprintf(w, "serial  %s\n", p)
			}

			names := usbid.OpenOrEmbedded()
			devices, err := usbtmc.List()
			if err != nil {
				pkg.LogWarn(component, "usb enumeration failed", "error", err)
			}
			for _, d := range devices {
				fmt.Fprintf(w, "usbtmc  %s  %s  %s\n", d, d.Protocol, names.Describe(d.Vendor, d.Product))
			}

			if len(ports) == 0 && len(devices) == 0 {
				fmt.Fprintln(w, "no instruments found")
			}
			return nil
		},
	}
}
