package coordinator

import "time"

// RequestKind is the tagged variant of what a ClientSession is currently
// asking the Coordinator to do.
type RequestKind uint8

const (
	// Void is the default "awaiting next request" state, subject to
	// ForceCloseTimeout.
	Void RequestKind = iota
	// WaitAuth requests authentication of RequestUser within the session's
	// deadline.
	WaitAuth
	// AddUser associates RequestUser with the next single active UID.
	AddUser
	// DelUser disassociates RequestUser from the next single active UID.
	DelUser
	// DelAllUser deletes every credential entry for RequestUser, with no
	// deadline.
	DelAllUser
	// WatchCount streams count-changes of the active set.
	WatchCount
	// WatchUids streams UID-set changes; gated to superuser peers.
	WatchUids
)

// String returns the human-readable name of the request kind.
func (k RequestKind) String() string {
	switch k {
	case Void:
		return "Void"
	case WaitAuth:
		return "WaitAuth"
	case AddUser:
		return "AddUser"
	case DelUser:
		return "DelUser"
	case DelAllUser:
		return "DelAllUser"
	case WatchCount:
		return "WatchCount"
	case WatchUids:
		return "WatchUids"
	default:
		return "Unknown"
	}
}

// PeerIdentity is the credential information the Acceptor gathers for a
// connection before a ClientSession is created.
type PeerIdentity struct {
	PID      int32
	UID      uint32
	GID      uint32
	Username string
}

// IsSuperuser reports whether the peer is UID 0.
func (p PeerIdentity) IsSuperuser() bool {
	return p.UID == 0
}

// ClientSession is the Coordinator's view of one live client connection.
type ClientSession struct {
	Peer PeerIdentity

	Request     RequestKind
	RequestUser string

	// ExpiresAt is the deadline for the current request. The zero Time
	// means "never" (used by DelAllUser and by Watch requests).
	ExpiresAt time.Time

	// IsNew marks a just-installed Watch request so its first evaluation
	// always emits, even without an ActiveSet change.
	IsNew bool

	// ReplyCh is the session's half of its channel back to the handler.
	// The Coordinator never reads from it, only sends.
	ReplyCh chan<- Reply
}

// hasDeadline reports whether ExpiresAt should be checked for this request.
func (s *ClientSession) hasDeadline() bool {
	return !s.ExpiresAt.IsZero()
}

// expired reports whether the session's current request has passed its
// deadline as of now.
func (s *ClientSession) expired(now time.Time) bool {
	return s.hasDeadline() && !now.Before(s.ExpiresAt)
}

// resetToVoid transitions the session back to the idle state with a fresh
// force-close deadline.
func (s *ClientSession) resetToVoid(now time.Time, forceCloseTimeout time.Duration) {
	s.Request = Void
	s.RequestUser = ""
	s.ExpiresAt = now.Add(forceCloseTimeout)
	s.IsNew = false
}
