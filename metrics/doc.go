// Package metrics exposes instrument activity as prometheus metrics.
//
// A single [Metrics] value observes the SCPI engine, the USBTMC function,
// the bridge and the line transports; serve [Metrics.Handler] to scrape it.
package metrics
