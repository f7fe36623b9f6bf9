// Package lockobserver implements the optional session-lock side effect
// some deployments want alongside tag tracking: some readers historically
// called `loginctl lock-sessions` whenever a poll found no recognized tag
// present. Here that behavior lives entirely outside the authentication
// core, as its own observer subscribed to Coordinator-broadcast ActiveSet
// snapshots over an independent channel. It is off by default and never
// touches listener or Coordinator internals.
package lockobserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/login1"

	"github.com/dantte-lp/nfcauthd/internal/uidset"
)

// LockSessions is the subset of login1.Conn this package depends on,
// narrowed for testability.
type LockSessions interface {
	LockSessions() error
	Close()
}

// Options configures an Observer.
type Options struct {
	// LockOnAnyChange locks every time the ActiveSet changes at all,
	// rather than only on the transition into an empty set (the closest
	// in-core analogue of the original "no tag read this poll" trigger).
	LockOnAnyChange bool
}

// Observer watches a stream of ActiveSet snapshots and calls
// org.freedesktop.login1.Manager.LockSessions over D-Bus when the
// configured trigger condition is met.
type Observer struct {
	conn   LockSessions
	opts   Options
	logger *slog.Logger
}

// New connects to the system D-Bus login1 manager and returns an Observer.
// Callers should defer Close.
func New(opts Options, logger *slog.Logger) (*Observer, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("lockobserver: connect to login1: %w", err)
	}
	return &Observer{conn: loginConn{conn}, opts: opts, logger: logger.With("component", "lockobserver")}, nil
}

// loginConn adapts *login1.Conn to the LockSessions interface: the
// underlying call is fire-and-forget and never surfaces an error.
type loginConn struct {
	*login1.Conn
}

func (c loginConn) LockSessions() error {
	c.Conn.LockSessions()
	return nil
}

// newWithConn is the test seam: it skips the real D-Bus dial.
func newWithConn(conn LockSessions, opts Options, logger *slog.Logger) *Observer {
	return &Observer{conn: conn, opts: opts, logger: logger.With("component", "lockobserver")}
}

// Close releases the underlying D-Bus connection.
func (o *Observer) Close() {
	o.conn.Close()
}

// Run consumes ActiveSet snapshots from changes until ctx is canceled or
// the channel closes. It never blocks the Coordinator: changes is expected
// to be the non-blocking broadcast channel the Coordinator's
// Options.ActiveSetChanges feeds.
func (o *Observer) Run(ctx context.Context, changes <-chan uidset.Set) {
	var prev uidset.Set
	havePrev := false

	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-changes:
			if !ok {
				return
			}
			o.evaluate(havePrev, prev, next)
			prev = next
			havePrev = true
		}
	}
}

// evaluate decides whether this transition should trigger a lock, and does
// so. Errors from the D-Bus call are logged, never propagated: a failed
// lock attempt is not a core authentication failure.
func (o *Observer) evaluate(havePrev bool, prev, next uidset.Set) {
	trigger := o.opts.LockOnAnyChange
	if !trigger && havePrev {
		trigger = len(prev) > 0 && len(next) == 0
	}
	if !trigger {
		return
	}

	if err := o.conn.LockSessions(); err != nil {
		o.logger.Warn("lock-sessions call failed", "error", err)
		return
	}
	o.logger.Debug("locked sessions", "active_uids", len(next))
}
