// Package coordinator implements the single-threaded owner of the merged
// active-UID set, the per-client session table, the authentication cache,
// and all mutations to the credential store's in-memory view.
//
// Every exported mutation reaches the Coordinator through its inbox
// channel, processed strictly FIFO by a single goroutine (Run). No field on
// Coordinator is ever touched from any other goroutine, so no locking is
// required anywhere in this package.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/nfcauthd/internal/credstore"
)

// Options configures a Coordinator.
type Options struct {
	ForceCloseTimeout  time.Duration
	MaxAuthRequestWait time.Duration

	// TranslationTable rewrites incoming UIDs before they enter the merged
	// active set.
	TranslationTable map[string]string

	// ActiveSetChanges, when non-nil, receives a copy of the ActiveSet
	// after every change. The lock observer is the intended consumer; it
	// is never required and never blocks the Coordinator (send is
	// non-blocking with a drop-and-log fallback).
	ActiveSetChanges chan<- ActiveSet

	// Metrics, when non-nil, receives credential-store reload outcomes.
	Metrics Metrics
}

// Metrics is the subset of the daemon's Prometheus collector the
// Coordinator reports to.
type Metrics interface {
	RecordCredentialReload(result string)
}

// Coordinator owns ActiveSet, AuthCache, the ClientSession table, and the
// in-memory CredentialStore, exactly as the ownership section of the
// authentication contract requires.
type Coordinator struct {
	inbox chan Message

	store    *credstore.Store
	snapshot *snapshotTable
	active   ActiveSet
	cache    *authCache

	sessions map[SessionID]*ClientSession

	loadFailing bool

	opts   Options
	logger *slog.Logger
}

// New creates a Coordinator bound to the given credential store.
func New(store *credstore.Store, opts Options, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		inbox:    make(chan Message, 256),
		store:    store,
		snapshot: newSnapshotTable(),
		active:   make(ActiveSet),
		cache:    newAuthCache(),
		sessions: make(map[SessionID]*ClientSession),
		opts:     opts,
		logger:   logger.With("component", "coordinator"),
	}
}

// Inbox returns the send side of the Coordinator's single inbox channel.
// Every producer (Listeners, the Acceptor, Session Handlers) holds only
// this send-only view.
func (c *Coordinator) Inbox() chan<- Message {
	return c.inbox
}

// Run drains the inbox until ctx is canceled. It is the Coordinator's only
// goroutine; every field access below happens on this goroutine alone.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *Coordinator) handle(msg Message) {
	now := time.Now()
	uidsChanged := false
	prevSet := c.active

	switch m := msg.(type) {
	case ListenerUpdate:
		if !m.KeepAlive {
			merged := c.snapshot.update(m.Listener, m.Snapshot, c.opts.TranslationTable)
			if !merged.Equal(c.active) {
				prevSet = c.active
				c.active = merged
				uidsChanged = true
				c.cache.invalidate()
				c.broadcastActiveSet()
			}
		}

	case NewSession:
		c.sessions[m.ID] = &ClientSession{
			Peer:      m.Peer,
			Request:   Void,
			ExpiresAt: now.Add(c.opts.ForceCloseTimeout),
			ReplyCh:   m.ReplyCh,
		}
		select {
		case m.Ack <- struct{}{}:
		default:
		}

	case SessionStopRequest:
		if sess, ok := c.sessions[m.ID]; ok {
			c.deliver(m.ID, sess, Stop{})
			delete(c.sessions, m.ID)
		}
		return

	case ClientRequest:
		c.applyClientRequest(m, now)
	}

	c.reloadCredentials()

	c.evaluateAll(stepContext{
		now:                now,
		active:             c.active,
		uidsChanged:        uidsChanged,
		prevSet:            prevSet,
		cache:              c.cache,
		entries:            c.store.Entries(),
		forceCloseTimeout:  c.opts.ForceCloseTimeout,
		maxAuthRequestWait: c.opts.MaxAuthRequestWait,
	}, isKeepAlive(msg))
}

// reloadCredentials re-reads the credential file if its mtime advanced. A
// reload in either direction (fresh entries or the empty store a failed
// parse leaves behind) changes what authentication would compute, so both
// invalidate the cache. The failure warning is logged once per transition,
// not once per inbox event.
func (c *Coordinator) reloadCredentials() {
	result, err := c.store.Load()
	switch {
	case err != nil:
		// The first failure empties the in-memory store, which is itself a
		// reload as far as cached auth results are concerned. Repeat
		// failures leave the (already empty) store untouched.
		if !c.loadFailing {
			c.loadFailing = true
			c.cache.invalidate()
			if c.opts.Metrics != nil {
				c.opts.Metrics.RecordCredentialReload("failed")
			}
			c.logger.Warn("credential store reload failed, serving empty store", "error", err)
		}
	case result == credstore.Reloaded:
		c.cache.invalidate()
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordCredentialReload("reloaded")
		}
		if c.loadFailing {
			c.loadFailing = false
			c.logger.Info("credential store recovered", "entries", len(c.store.Entries()))
		}
	}
}

func isKeepAlive(msg Message) bool {
	lu, ok := msg.(ListenerUpdate)
	return ok && lu.KeepAlive
}

// applyClientRequest installs a new request on an existing session,
// computing its deadline per the request kind.
func (c *Coordinator) applyClientRequest(m ClientRequest, now time.Time) {
	sess, ok := c.sessions[m.ID]
	if !ok {
		return
	}

	sess.Request = m.Kind
	sess.RequestUser = m.User
	sess.IsNew = true

	switch m.Kind {
	case WaitAuth, AddUser, DelUser:
		// DELUSER with a negative wait is parsed as DelAllUser by the
		// session protocol layer before it ever reaches this request, so
		// WaitSeconds here is always non-negative.
		wait := time.Duration(m.WaitSeconds) * time.Second
		if wait > c.opts.MaxAuthRequestWait {
			wait = c.opts.MaxAuthRequestWait
		}
		sess.ExpiresAt = now.Add(wait)
	case DelAllUser:
		sess.ExpiresAt = time.Time{}
	case WatchCount, WatchUids:
		sess.ExpiresAt = time.Time{}
	}
}

// evaluateAll runs every session through its state step and delivers any
// resulting replies. KeepAlive events skip Watch re-evaluation (nothing to
// report) but still re-check Wait/Add/Del/Void deadlines.
func (c *Coordinator) evaluateAll(ctx stepContext, keepAlive bool) {
	for id, sess := range c.sessions {
		replies := evaluateSession(sess, ctx, keepAlive)
		for _, r := range replies {
			c.deliver(id, sess, r)
		}
	}
}

func (c *Coordinator) deliver(id SessionID, sess *ClientSession, r Reply) {
	select {
	case sess.ReplyCh <- r:
	default:
		c.logger.Warn("reply channel full, dropping", "session", id)
	}
	if _, ok := r.(Stop); ok {
		delete(c.sessions, id)
	}
}

// broadcastActiveSet notifies the optional lock observer of the new
// ActiveSet. It never blocks the Coordinator: a full channel just drops the
// notification, matching the non-blocking-send pattern used for every
// other Coordinator->consumer fan-out in this codebase.
func (c *Coordinator) broadcastActiveSet() {
	if c.opts.ActiveSetChanges == nil {
		return
	}
	select {
	case c.opts.ActiveSetChanges <- c.active.Clone():
	default:
		c.logger.Debug("active-set change channel full, dropping")
	}
}
