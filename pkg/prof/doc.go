// Package prof exposes runtime profiling to the microscpi command.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/microscpi
//
// Without the tag every function is a no-op and [Enabled] is false, so the
// command keeps its --cpuprofile flag and pprof mount in every build.
//
// CPU profiles stream to a file between [StartCPU] and [StopCPU]. Other
// profiles are point-in-time snapshots written by [Write]. [Register] mounts
// the net/http/pprof handlers under /debug/pprof/ on a caller's mux, next to
// the metrics endpoint.
package prof
