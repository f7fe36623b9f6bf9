package lockobserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu     sync.Mutex
	calls  int
	closed bool
	err    error
}

func (f *fakeConn) LockSessions() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocksOnlyOnTransitionToEmpty(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	o := newWithConn(conn, Options{}, testLogger())

	changes := make(chan uidset.Set)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx, changes)
		close(done)
	}()

	send(t, changes, uidset.New("AA"))
	send(t, changes, uidset.New("AA", "BB"))
	send(t, changes, uidset.New())
	send(t, changes, uidset.New("CC"))
	send(t, changes, uidset.New())

	cancel()
	<-done

	if got := conn.callCount(); got != 2 {
		t.Fatalf("LockSessions called %d times, want 2", got)
	}
}

func TestLocksOnAnyChangeWhenConfigured(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	o := newWithConn(conn, Options{LockOnAnyChange: true}, testLogger())

	changes := make(chan uidset.Set)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx, changes)
		close(done)
	}()

	send(t, changes, uidset.New("AA"))
	send(t, changes, uidset.New("BB"))

	cancel()
	<-done

	if got := conn.callCount(); got != 2 {
		t.Fatalf("LockSessions called %d times, want 2", got)
	}
}

func TestNeverLocksOnFirstSnapshot(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	o := newWithConn(conn, Options{}, testLogger())

	changes := make(chan uidset.Set)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx, changes)
		close(done)
	}()

	// The very first snapshot the process sees is empty; there is no
	// "previous" set, so this must never count as a transition into empty.
	send(t, changes, uidset.New())

	cancel()
	<-done

	if got := conn.callCount(); got != 0 {
		t.Fatalf("LockSessions called %d times, want 0", got)
	}
}

func TestLockErrorIsLoggedNotFatal(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{err: errors.New("dbus: connection lost")}
	o := newWithConn(conn, Options{LockOnAnyChange: true}, testLogger())

	changes := make(chan uidset.Set)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.Run(ctx, changes)
		close(done)
	}()

	send(t, changes, uidset.New("AA"))
	send(t, changes, uidset.New("BB"))

	cancel()
	<-done

	if got := conn.callCount(); got != 2 {
		t.Fatalf("LockSessions called %d times, want 2", got)
	}
}

func send(t *testing.T, ch chan<- uidset.Set, s uidset.Set) {
	t.Helper()
	select {
	case ch <- s:
	case <-time.After(time.Second):
		t.Fatal("timed out sending snapshot")
	}
}
