//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Registers /debug/pprof/ handlers.
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/softiec/pkg"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// ErrActive is returned by Start while another session is running.
var ErrActive = errors.New("profile session already active")

// Snapshots are the profiles written when a session stops.
var Snapshots = []string{"heap", "goroutine", "block", "mutex"}

var (
	activeMutex sync.Mutex
	active      *Session
)

// Session is one profiling run.
type Session struct {
	dir string
	cpu *os.File
}

// Start begins a session writing into dir, which is created if needed.
func Start(dir string) (*Session, error) {
	activeMutex.Lock()
	defer activeMutex.Unlock()

	if active != nil {
		return nil, ErrActive
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, "cpu.prof"))
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	active = &Session{dir: dir, cpu: f}
	pkg.LogInfo(pkg.ComponentProfile, "profiling", "dir", dir)
	return active, nil
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.dir
}

// Stop ends the session and writes the snapshots. Calling Stop again does
// nothing.
func (s *Session) Stop() error {
	activeMutex.Lock()
	defer activeMutex.Unlock()

	if active != s {
		return nil
	}
	active = nil

	pprof.StopCPUProfile()
	err := s.cpu.Close()
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)

	for _, name := range Snapshots {
		if werr := writeSnapshot(name, filepath.Join(s.dir, name+".prof")); werr != nil && err == nil {
			err = werr
		}
	}
	pkg.LogInfo(pkg.ComponentProfile, "profiles written", "dir", s.dir)
	return err
}

func writeSnapshot(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("profile %q: %w", name, pkg.ErrNotSupported)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Serve starts the pprof HTTP server on addr in the background.
func Serve(addr string) {
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			pkg.LogWarn(pkg.ComponentProfile, "pprof server stopped", "addr", addr, "error", err)
		}
	}()
}
