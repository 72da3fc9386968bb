//go:build !profile

package prof

import "testing"

func TestStub(t *testing.T) {
	if Enabled {
		t.Fatal("Enabled without the profile tag")
	}
	s, err := Start("unused")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Dir() != "unused" {
		t.Errorf("Dir() = %q", s.Dir())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	Serve("localhost:0")
}
