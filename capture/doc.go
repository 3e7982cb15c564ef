// Package capture reads and writes USBTMC bulk traffic in Linux usbmon
// pcap files, the format produced by Wireshark and tcpdump on a usbmonN
// interface.
//
// [Decoder] walks a capture and yields one [Transfer] per bulk URB that
// starts with a valid USBTMC header. [Recorder] wraps a host pipe and
// writes the traffic it carries in the same format.
package capture
