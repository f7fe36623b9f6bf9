package acceptor

import (
	"os"
	"testing"
)

func TestProcessInfoReadsCurrentProcess(t *testing.T) {
	pid := int32(os.Getpid())
	name, ppid, ok := processInfo(pid)
	if !ok {
		t.Fatalf("processInfo(%d) reported not ok", pid)
	}
	if name == "" {
		t.Error("expected a non-empty process name")
	}
	if ppid <= 0 {
		t.Errorf("expected a positive parent pid, got %d", ppid)
	}
}

func TestProcessInfoMissingProcess(t *testing.T) {
	// PID 0 is never a real process; /proc/0 never exists.
	if _, _, ok := processInfo(0); ok {
		t.Error("expected processInfo(0) to report not ok")
	}
}

func TestIsRemoteUserNoMatch(t *testing.T) {
	if isRemoteUser(int32(os.Getpid()), map[string]struct{}{"definitely-not-a-real-process-name": {}}) {
		t.Error("expected no match against a sentinel process name")
	}
}

func TestIsRemoteUserEmptyTableNeverCalled(t *testing.T) {
	// identify() skips the walk entirely when the table is empty; this just
	// documents that an empty table passed directly still returns false
	// rather than panicking.
	if isRemoteUser(int32(os.Getpid()), map[string]struct{}{}) {
		t.Error("expected an empty table to never match")
	}
}
