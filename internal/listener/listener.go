// Package listener implements the generic Reader Listener contract: a
// long-lived task that turns one backend's raw tag reads into normalized
// UidsUpdate/KeepAlive messages for the Coordinator. The wire dialect of
// any particular backend (PC/SC, serial, HID, ADB, Proxmark3, Chameleon,
// uFR, HTTP/TCP push) is out of scope here; each backend need only satisfy
// one of the small device interfaces in this package.
package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

// Sink receives a Listener's output. In production this is an adapter that
// forwards to the Coordinator's inbox as a coordinator.ListenerUpdate; tests
// use a channel-backed fake.
type Sink interface {
	UidsUpdate(listenerName string, snapshot uidset.Set)
	KeepAlive(listenerName string)
}

// SinkFunc-style adapters are unnecessary here: every production caller
// wires a single adapter type (see cmd/nfcauthd) that forwards both methods
// onto one coordinator.Message channel.

// reopenBackoff is how long a listener sleeps after a device I/O error
// before attempting to reopen the device. Fixed and short: the contract
// calls for "sleep briefly, reopen, and continue", not exponential backoff,
// since a reader being briefly unplugged is routine, not exceptional.
const reopenBackoff = 2 * time.Second

// normalizeSet normalizes a slice of raw UID strings into a deduplicated
// Set, exactly as every Listener family is required to do before emission.
// Snapshots are emitted untranslated: the configured translation table is
// applied exactly once, by the Coordinator, when snapshots merge into the
// active set.
func normalizeSet(raw []string) uidset.Set {
	out := make(uidset.Set, len(raw))
	for _, r := range raw {
		u := uidset.Normalize(r)
		if u == "" {
			continue
		}
		out[u] = struct{}{}
	}
	return out
}

// sleepOrDone pauses for d or returns false immediately if ctx is canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func logComponent(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", "listener", "backend", name)
}
