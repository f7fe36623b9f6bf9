package session_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/nfcauthd/internal/coordinator"
	"github.com/dantte-lp/nfcauthd/internal/credstore"
	"github.com/dantte-lp/nfcauthd/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWriter records Write calls instead of execing a helper binary.
type fakeWriter struct {
	mu      sync.Mutex
	calls   int
	entries []credstore.Entry
	err     error
}

func (f *fakeWriter) Write(_ session.PeerIdentity, _ string, entries []credstore.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.entries = entries
	return f.err
}

// dialPair creates a real Unix socket pair for exercising Handler.Handle,
// which requires a *net.UnixConn to match the acceptor.SessionFactory
// signature.
func dialPair(t *testing.T) (server *net.UnixConn, client *net.UnixConn) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err == nil {
			accepted <- c
		}
	}()

	cli, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case srv := <-accepted:
		return srv, cli
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

func newHandler(inbox chan coordinator.Message, writer session.CredentialWriter) *session.Handler {
	return session.New(session.Options{
		Inbox:          inbox,
		CredentialPath: "/tmp/does-not-matter.json",
		Writer:         writer,
	}, testLogger())
}

// ackNewSession drains the NewSession announcement a Handle call always
// sends first, returning its reply channel.
func ackNewSession(t *testing.T, inbox chan coordinator.Message) (coordinator.SessionID, chan<- coordinator.Reply) {
	t.Helper()
	select {
	case msg := <-inbox:
		ns, ok := msg.(coordinator.NewSession)
		if !ok {
			t.Fatalf("expected NewSession, got %#v", msg)
		}
		ns.Ack <- struct{}{}
		return ns.ID, ns.ReplyCh
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NewSession")
		return 0, nil
	}
}

func TestHandleForwardsWaitAuthAndRendersReply(t *testing.T) {
	t.Parallel()

	srv, cli := dialPair(t)
	defer cli.Close()

	inbox := make(chan coordinator.Message, 4)
	h := newHandler(inbox, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv, session.PeerIdentity{PID: 100, UID: 1000, Username: "alice"})
		close(done)
	}()

	id, replyCh := ackNewSession(t, inbox)

	if _, err := cli.Write([]byte("WAITAUTH alice 5\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-inbox:
		req, ok := msg.(coordinator.ClientRequest)
		if !ok {
			t.Fatalf("expected ClientRequest, got %#v", msg)
		}
		if req.ID != id || req.Kind != coordinator.WaitAuth || req.User != "alice" || req.WaitSeconds != 5 {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ClientRequest")
	}

	replyCh <- coordinator.AuthResult{OK: true, UIDs: []coordinator.UID{"DEADBEEF"}}

	reader := bufio.NewReader(cli)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "AUTHOK DEADBEEF\n" {
		t.Fatalf("got %q, want %q", line, "AUTHOK DEADBEEF\n")
	}

	cancel()
	<-done
}

func TestHandleGatesWatchUidsForNonSuperuser(t *testing.T) {
	t.Parallel()

	srv, cli := dialPair(t)
	defer cli.Close()

	inbox := make(chan coordinator.Message, 4)
	h := newHandler(inbox, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv, session.PeerIdentity{PID: 101, UID: 1000, Username: "alice"})
		close(done)
	}()

	_, _ = ackNewSession(t, inbox)

	if _, err := cli.Write([]byte("WATCHUIDS\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(cli)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "NOAUTH\n" {
		t.Fatalf("got %q, want %q", line, "NOAUTH\n")
	}

	// The Coordinator should never see a WatchUids request for this peer.
	select {
	case msg := <-inbox:
		t.Fatalf("unexpected message forwarded to coordinator: %#v", msg)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestHandleWritesCredentialsViaWriter(t *testing.T) {
	t.Parallel()

	srv, cli := dialPair(t)
	defer cli.Close()

	inbox := make(chan coordinator.Message, 4)
	w := &fakeWriter{}
	h := newHandler(inbox, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv, session.PeerIdentity{PID: 102, UID: 1000, Username: "carol"})
		close(done)
	}()

	_, replyCh := ackNewSession(t, inbox)

	entries := []credstore.Entry{{Username: "carol", HashedUID: "hash"}}
	replyCh <- coordinator.EncrUpdate{Entries: entries}

	reader := bufio.NewReader(cli)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "OK\n" {
		t.Fatalf("got %q, want %q", line, "OK\n")
	}

	w.mu.Lock()
	calls := w.calls
	w.mu.Unlock()
	if calls != 1 {
		t.Fatalf("writer called %d times, want 1", calls)
	}

	cancel()
	<-done
}

func TestHandleRendersWriteErrOnFailure(t *testing.T) {
	t.Parallel()

	srv, cli := dialPair(t)
	defer cli.Close()

	inbox := make(chan coordinator.Message, 4)
	w := &fakeWriter{err: errors.New("permission denied")}
	h := newHandler(inbox, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv, session.PeerIdentity{PID: 103, UID: 1000, Username: "carol"})
		close(done)
	}()

	_, replyCh := ackNewSession(t, inbox)
	replyCh <- coordinator.EncrUpdate{Entries: nil}

	reader := bufio.NewReader(cli)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "WRITEERR\n" {
		t.Fatalf("got %q, want %q", line, "WRITEERR\n")
	}

	cancel()
	<-done
}

func TestHandleClosesSocketOnStop(t *testing.T) {
	t.Parallel()

	srv, cli := dialPair(t)
	defer cli.Close()

	inbox := make(chan coordinator.Message, 4)
	h := newHandler(inbox, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv, session.PeerIdentity{PID: 104, UID: 1000, Username: "alice"})
		close(done)
	}()

	_, replyCh := ackNewSession(t, inbox)
	replyCh <- coordinator.Stop{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after Stop")
	}

	buf := make([]byte, 1)
	cli.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := cli.Read(buf); err == nil {
		t.Fatal("expected socket to be closed by the handler")
	}
}
