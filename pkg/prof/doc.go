// Package prof collects runtime profiles of programs that drive the USB
// controller.
//
// The interesting costs in a driver program are CPU time in the interrupt
// handler and contention on the driver's critical section, which the
// handler and every thread-context caller share. A [Session] records a CPU
// profile and, optionally, mutex and block profiles that attribute that
// contention to its call sites.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./examples/sim-hal/enumerate
//
// Without the tag [Start] returns a session whose methods do nothing, so
// flag handling and deferred stops can stay in place.
//
//	s, err := prof.Start(prof.Config{CPU: "cpu.prof", Mutex: "mutex.prof"})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
package prof
