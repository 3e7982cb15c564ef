//go:build !profile

package prof

import "net/http"

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Profile names a runtime/pprof profile.
type Profile string

// Snapshot profiles.
const (
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// StartCPU does nothing without the "profile" tag.
func StartCPU(string) error { return nil }

// StopCPU does nothing without the "profile" tag.
func StopCPU() error { return nil }

// Write does nothing without the "profile" tag.
func Write(Profile, string) error { return nil }

// Register does nothing without the "profile" tag.
func Register(*http.ServeMux) {}
