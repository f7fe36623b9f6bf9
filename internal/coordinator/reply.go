package coordinator

import "github.com/dantte-lp/nfcauthd/internal/credstore"

// Reply is the tagged union of messages the Coordinator sends back on a
// session's reply channel. The Session Handler renders each variant onto
// the wire; see internal/session/protocol.go.
type Reply interface {
	isReply()
}

// AuthResult answers a WaitAuth request. UIDs is populated only when the
// requesting peer authenticated itself (RequestUser == Peer.Username); it
// is always empty on failure and always empty for cross-user lookups.
type AuthResult struct {
	OK   bool
	UIDs []UID
}

func (AuthResult) isReply() {}

// NbUpdate answers a WatchCount subscription with the new active-set size
// and the signed delta since the previous report.
type NbUpdate struct {
	Count int
	Delta int
}

func (NbUpdate) isReply() {}

// UidsUpdate answers a WatchUids subscription with the complete current
// active set.
type UidsUpdate struct {
	UIDs []UID
}

func (UidsUpdate) isReply() {}

// EncrUpdate carries the proposed new credential-store contents for the
// Session Handler to persist at the peer's privilege level.
type EncrUpdate struct {
	Entries []credstore.Entry
}

func (EncrUpdate) isReply() {}

// EncrUpdateErrExists answers an AddUser whose (user, uid) pair is already
// present.
type EncrUpdateErrExists struct{}

func (EncrUpdateErrExists) isReply() {}

// EncrUpdateErrNone answers a DelUser/DelAllUser that matched no entries.
type EncrUpdateErrNone struct{}

func (EncrUpdateErrNone) isReply() {}

// EncrUpdateErrTimeout answers an AddUser/DelUser whose deadline passed
// before a matching single UID appeared.
type EncrUpdateErrTimeout struct{}

func (EncrUpdateErrTimeout) isReply() {}

// VoidRequestTimeout instructs the handler to close the socket: the session
// sat idle in Void past ForceCloseTimeout.
type VoidRequestTimeout struct{}

func (VoidRequestTimeout) isReply() {}

// NoAuth answers a WATCHUIDS attempt from a non-superuser peer.
type NoAuth struct{}

func (NoAuth) isReply() {}

// WriteResult answers an EncrUpdate write attempt made by the handler.
type WriteResult struct {
	OK bool
}

func (WriteResult) isReply() {}

// Stop instructs the handler to exit; the Coordinator has already removed
// the session.
type Stop struct{}

func (Stop) isReply() {}
