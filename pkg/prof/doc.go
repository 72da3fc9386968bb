// Package prof captures runtime profiles of a running bus.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go run -tags profile ./examples/wire-hal/drive -profile /tmp/iec
//
// Without the tag every function is a no-op, so callers can leave the
// hooks in place.
//
// A [Session] records a CPU profile for its lifetime and turns on block
// and mutex sampling, which is where handshake stalls between the edge
// handler and the service goroutine show up. [Session.Stop] writes the CPU
// profile and a snapshot of the other profiles to the session directory:
//
//	s, err := prof.Start(dir)
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// [Serve] exposes the same profiles over HTTP at /debug/pprof/.
package prof
