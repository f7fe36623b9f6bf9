package listener_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/nfcauthd/internal/listener"
	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records every UidsUpdate/KeepAlive call on buffered channels so
// tests can assert on the sequence without racing the listener goroutine.
type fakeSink struct {
	updates   chan uidset.Set
	keepalive chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		updates:   make(chan uidset.Set, 64),
		keepalive: make(chan struct{}, 64),
	}
}

func (f *fakeSink) UidsUpdate(_ string, snapshot uidset.Set) {
	f.updates <- snapshot
}

func (f *fakeSink) KeepAlive(_ string) {
	select {
	case f.keepalive <- struct{}{}:
	default:
	}
}

func (f *fakeSink) awaitUpdate(t *testing.T) uidset.Set {
	t.Helper()
	select {
	case u := <-f.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for UidsUpdate")
		return nil
	}
}

// fakePolledDevice scripts a sequence of Poll responses; each call to
// Poll consumes the next scripted entry, repeating the last one once
// exhausted. Open/Close call counts are tracked for reopen assertions.
type fakePolledDevice struct {
	mu        sync.Mutex
	polls     [][]string
	openErr   error
	openCalls int
	pollCalls int
	closes    int
	failAfter int // Poll returns an error once pollCalls reaches this (0 = never)
}

func (d *fakePolledDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCalls++
	return d.openErr
}

func (d *fakePolledDevice) Poll(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollCalls++
	if d.failAfter > 0 && d.pollCalls >= d.failAfter {
		return nil, errors.New("fake poll failure")
	}
	if len(d.polls) == 0 {
		return nil, nil
	}
	idx := d.pollCalls - 1
	if idx >= len(d.polls) {
		idx = len(d.polls) - 1
	}
	return d.polls[idx], nil
}

func (d *fakePolledDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func TestPolledEmitsUpdateOnChangeAndKeepAliveOtherwise(t *testing.T) {
	device := &fakePolledDevice{
		polls: [][]string{
			{"AA:BB:CC"},
			{"AA:BB:CC"},
			{"AA:BB:CC", "11:22:33"},
		},
	}
	sink := newFakeSink()
	p := listener.NewPolled("test", device, 20*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first := sink.awaitUpdate(t)
	if !first.Equal(uidset.New("AABBCC")) {
		t.Fatalf("unexpected first snapshot: %v", first)
	}

	select {
	case <-sink.keepalive:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a keepalive for the unchanged second poll")
	}

	second := sink.awaitUpdate(t)
	if !second.Equal(uidset.New("AABBCC", "112233")) {
		t.Fatalf("unexpected second snapshot: %v", second)
	}
}

func TestPolledReopensAfterPollError(t *testing.T) {
	device := &fakePolledDevice{
		polls:     [][]string{{"AA:BB:CC"}},
		failAfter: 2,
	}
	sink := newFakeSink()
	p := listener.NewPolled("test", device, 10*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	sink.awaitUpdate(t)

	deadline := time.After(5 * time.Second)
	for {
		device.mu.Lock()
		opens := device.openCalls
		device.mu.Unlock()
		if opens >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("device was never reopened after a poll error")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// fakeEventDevice delivers scripted raw UID reads, then blocks until ctx is
// canceled (simulating an idle reader). If errOnOpen is non-zero, the
// errOnOpen'th Open call (1-indexed) returns an immediate read error
// instead of blocking, so callers can exercise the reopen path.
type fakeEventDevice struct {
	mu        sync.Mutex
	reads     []string
	errOnOpen int
	readCalls int
	openCalls int
	closes    int
}

func (d *fakeEventDevice) Open(_ context.Context) error {
	d.mu.Lock()
	d.openCalls++
	d.mu.Unlock()
	return nil
}

func (d *fakeEventDevice) Next(ctx context.Context) (string, error) {
	d.mu.Lock()
	opens := d.openCalls
	idx := d.readCalls
	d.readCalls++
	d.mu.Unlock()

	if d.errOnOpen != 0 && opens == d.errOnOpen {
		return "", errors.New("fake read failure")
	}
	if idx < len(d.reads) {
		return d.reads[idx], nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (d *fakeEventDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

func TestEventDrivenTracksPresenceUntilExpiry(t *testing.T) {
	device := &fakeEventDevice{reads: []string{"AA:BB:CC"}}
	sink := newFakeSink()
	e := listener.NewEventDriven("test", device, 80*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	present := sink.awaitUpdate(t)
	if !present.Equal(uidset.New("AABBCC")) {
		t.Fatalf("unexpected presence snapshot: %v", present)
	}

	expired := sink.awaitUpdate(t)
	if len(expired) != 0 {
		t.Fatalf("expected the UID to expire to an empty set, got %v", expired)
	}
}

func TestEventDrivenReopensOnReadError(t *testing.T) {
	device := &fakeEventDevice{errOnOpen: 1}
	sink := newFakeSink()
	e := listener.NewEventDriven("test", device, 50*time.Millisecond, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		device.mu.Lock()
		opens := device.openCalls
		device.mu.Unlock()
		if opens >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("device was never reopened after a read error")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
