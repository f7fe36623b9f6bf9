package coordinator

import (
	"time"

	"github.com/dantte-lp/nfcauthd/internal/credstore"
)

// stepContext is everything a single session evaluation needs to read. It
// never exposes a way to mutate Coordinator-owned state directly: every
// effect is expressed as a returned Reply or a field write on the session
// itself, mirroring the caller-executes-side-effects split of a classic
// pure transition function.
type stepContext struct {
	now    time.Time
	active ActiveSet

	// uidsChanged and prevSet describe the ActiveSet transition that
	// triggered this pass, if any. prevSet is only meaningful when
	// uidsChanged is true.
	uidsChanged bool
	prevSet     ActiveSet

	cache   *authCache
	entries []credstore.Entry

	forceCloseTimeout  time.Duration
	maxAuthRequestWait time.Duration
}

// evaluateSession runs one session through the per-event "session state
// step": it may emit zero or more replies and may transition the session's
// request back to Void. KeepAlive events skip this for every kind except
// WaitAuth/AddUser/DelUser/DelAllUser/Void, which still need their deadline
// re-checked even when nothing else happened.
func evaluateSession(sess *ClientSession, ctx stepContext, skipWatch bool) []Reply {
	switch sess.Request {
	case WatchCount:
		if skipWatch {
			return nil
		}
		return stepWatchCount(sess, ctx)
	case WatchUids:
		if skipWatch {
			return nil
		}
		return stepWatchUids(sess, ctx)
	case WaitAuth:
		return stepWaitAuth(sess, ctx)
	case AddUser:
		return stepAddUser(sess, ctx)
	case DelUser:
		return stepDelUser(sess, ctx)
	case DelAllUser:
		return stepDelAllUser(sess, ctx)
	case Void:
		return stepVoid(sess, ctx)
	default:
		return nil
	}
}

func stepWatchCount(sess *ClientSession, ctx stepContext) []Reply {
	if !ctx.uidsChanged {
		return nil
	}
	if len(ctx.active) == len(ctx.prevSet) {
		return nil
	}
	delta := len(ctx.active) - len(ctx.prevSet)
	return []Reply{NbUpdate{Count: len(ctx.active), Delta: delta}}
}

func stepWatchUids(sess *ClientSession, ctx stepContext) []Reply {
	emit := sess.IsNew || (ctx.uidsChanged && !ctx.active.Equal(ctx.prevSet))
	sess.IsNew = false
	if !emit {
		return nil
	}
	return []Reply{UidsUpdate{UIDs: ctx.active.Sorted()}}
}

func stepWaitAuth(sess *ClientSession, ctx stepContext) []Reply {
	entry, ok := ctx.cache.lookup(sess.RequestUser)
	if !ok {
		entry = computeAuth(sess.RequestUser, ctx)
		ctx.cache.store(sess.RequestUser, entry)
	}

	if !entry.authenticated && !sess.expired(ctx.now) {
		return nil
	}

	result := AuthResult{OK: entry.authenticated}
	if entry.authenticated && sess.RequestUser == sess.Peer.Username {
		result.UIDs = entry.matchingUIDs
	}
	sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
	return []Reply{result}
}

// computeAuth matches every active UID against the requested user's
// credential entries, verifying the salted hash rather than ever comparing
// stored strings directly.
func computeAuth(user string, ctx stepContext) authCacheEntry {
	var matches []UID
	for uid := range ctx.active {
		for _, e := range ctx.entries {
			if e.Username != user {
				continue
			}
			if credstore.Verify(string(uid), e.HashedUID) {
				matches = append(matches, uid)
				break
			}
		}
	}
	return authCacheEntry{authenticated: len(matches) > 0, matchingUIDs: matches}
}

func stepAddUser(sess *ClientSession, ctx stepContext) []Reply {
	uid, ok := ctx.active.Single()
	if !ok {
		if sess.expired(ctx.now) {
			sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
			return []Reply{EncrUpdateErrTimeout{}}
		}
		return nil
	}

	for _, e := range ctx.entries {
		if e.Username == sess.RequestUser && credstore.Verify(string(uid), e.HashedUID) {
			sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
			return []Reply{EncrUpdateErrExists{}}
		}
	}

	hashed, err := credstore.Hash(string(uid))
	if err != nil {
		sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
		return []Reply{EncrUpdateErrTimeout{}}
	}

	next := append(append([]credstore.Entry{}, ctx.entries...), credstore.Entry{
		Username:  sess.RequestUser,
		HashedUID: hashed,
	})
	sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
	return []Reply{EncrUpdate{Entries: next}}
}

func stepDelUser(sess *ClientSession, ctx stepContext) []Reply {
	uid, ok := ctx.active.Single()
	if !ok {
		if sess.expired(ctx.now) {
			sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
			return []Reply{EncrUpdateErrTimeout{}}
		}
		return nil
	}

	next := make([]credstore.Entry, 0, len(ctx.entries))
	removed := false
	for _, e := range ctx.entries {
		if e.Username == sess.RequestUser && credstore.Verify(string(uid), e.HashedUID) {
			removed = true
			continue
		}
		next = append(next, e)
	}

	sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
	if !removed {
		return []Reply{EncrUpdateErrNone{}}
	}
	return []Reply{EncrUpdate{Entries: next}}
}

func stepDelAllUser(sess *ClientSession, ctx stepContext) []Reply {
	next := make([]credstore.Entry, 0, len(ctx.entries))
	removed := false
	for _, e := range ctx.entries {
		if e.Username == sess.RequestUser {
			removed = true
			continue
		}
		next = append(next, e)
	}

	sess.resetToVoid(ctx.now, ctx.forceCloseTimeout)
	if !removed {
		return []Reply{EncrUpdateErrNone{}}
	}
	return []Reply{EncrUpdate{Entries: next}}
}

func stepVoid(sess *ClientSession, ctx stepContext) []Reply {
	if !sess.expired(ctx.now) {
		return nil
	}
	return []Reply{VoidRequestTimeout{}}
}
