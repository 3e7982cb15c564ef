// Command microscpi runs and talks to a simulated SCPI instrument.
//
// Usage:
//
//	microscpi serve [--config file] [--serial port] [--ws addr] [--metrics addr]
//	microscpi console
//	microscpi selftest [--capture file.pcap]
//	microscpi query (--port dev | --url ws://... | --usb vid:pid) MESSAGE...
//	microscpi list
//	microscpi decode [--bus n] [--device n] capture.pcap
//	microscpi config (init | validate | show)
//
// Global options:
//
//	-c, --config file   YAML configuration (defaults apply when omitted)
//	-v, --verbose       Enable verbose (debug) logging
//	    --json          Use JSON log format
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
