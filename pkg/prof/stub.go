//go:build !profile

package prof

import "errors"

// Enabled reports whether profiling is compiled in.
const Enabled = false

// ErrActive is returned by Start while another session is running.
var ErrActive = errors.New("profile session already active")

// Snapshots are the profiles written when a session stops.
var Snapshots []string

// Session is one profiling run.
type Session struct {
	dir string
}

// Start returns an inert session.
func Start(dir string) (*Session, error) {
	return &Session{dir: dir}, nil
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.dir
}

// Stop does nothing.
func (s *Session) Stop() error {
	return nil
}

// Serve does nothing.
func Serve(addr string) {}
