package prof

import "errors"

// ErrActive means a session is already running. The runtime supports one
// CPU profile at a time.
var ErrActive = errors.New("profiling session already active")

// Config names the output file of each profile. Empty names are skipped.
type Config struct {
	CPU   string
	Mutex string
	Block string
	Heap  string
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.CPU != "" || c.Mutex != "" || c.Block != "" || c.Heap != ""
}
