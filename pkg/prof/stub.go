//go:build !profile

package prof

// Compiled reports whether profiling support is built in.
const Compiled = false

// Session is a running set of profiles. Without the "profile" build tag it
// records nothing.
type Session struct{}

// Start returns an inert session.
func Start(Config) (*Session, error) { return &Session{}, nil }

// Stop does nothing.
func (s *Session) Stop() error { return nil }
