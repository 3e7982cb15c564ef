// Package relay drives a 2 row by 6 column relay crossbar built on an
// SLG46826 GreenPAK I/O expander over I2C.
//
// The expander exposes two 6-bit output ports. Each write latches one port:
// the port bits are sent once with the clock bits set and then again as
// plain data, both to register [RegWrite]. Crosspoints are named by SCPI
// channel numbers, row*100 + column, and lists of them use the
// (@101,103:105) syntax.
package relay
