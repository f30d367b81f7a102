//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Compiled reports whether profiling support is built in.
const Compiled = true

var (
	activeMu sync.Mutex
	active   bool
)

// Session is a running set of profiles.
type Session struct {
	cfg     Config
	cpu     *os.File
	stopped bool
}

// Start begins the profiles cfg requests. Mutex and block sampling are
// enabled at full rate until Stop.
func Start(cfg Config) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active {
		return nil, ErrActive
	}

	s := &Session{cfg: cfg}
	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		s.cpu = f
	}
	if cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if cfg.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	active = true
	return s, nil
}

// Stop ends the CPU profile and writes the snapshot profiles. It is safe
// to call more than once.
func (s *Session) Stop() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if s == nil || s.stopped {
		return nil
	}
	s.stopped = true
	active = false

	var errs []error
	if s.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpu.Close())
	}
	if s.cfg.Mutex != "" {
		errs = append(errs, write("mutex", s.cfg.Mutex))
		runtime.SetMutexProfileFraction(0)
	}
	if s.cfg.Block != "" {
		errs = append(errs, write("block", s.cfg.Block))
		runtime.SetBlockProfileRate(0)
	}
	if s.cfg.Heap != "" {
		runtime.GC()
		errs = append(errs, write("heap", s.cfg.Heap))
	}
	return errors.Join(errs...)
}

func write(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", name, err)
	}
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		f.Close()
		return fmt.Errorf("%s profile: %w", name, err)
	}
	return f.Close()
}
