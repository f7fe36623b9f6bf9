package coordinator

// SessionID identifies a ClientSession within the Coordinator's table. The
// peer PID is used directly, so two concurrent connections from the same
// process share one ID; the later NewSession replaces the earlier entry.
type SessionID int32

// Message is the tagged union accepted on the Coordinator's single inbox
// channel. Every mutation to Coordinator-owned state originates from a
// value implementing this interface, preserving the strict-FIFO,
// single-mutator invariant.
type Message interface {
	isMessage()
}

// ListenerUpdate carries the complete current UID set for one backend, or
// signals a bare KeepAlive so the Coordinator's timers still advance.
type ListenerUpdate struct {
	Listener  string
	Snapshot  ActiveSet
	KeepAlive bool
}

func (ListenerUpdate) isMessage() {}

// NewSession announces a freshly accepted connection. Ack is sent exactly
// once, synchronously from the Coordinator's perspective, so the Session
// Handler knows it may begin accepting client bytes.
type NewSession struct {
	ID      SessionID
	Peer    PeerIdentity
	ReplyCh chan<- Reply
	Ack     chan<- struct{}
}

func (NewSession) isMessage() {}

// SessionStopRequest removes a session from the table, typically because
// its socket closed.
type SessionStopRequest struct {
	ID SessionID
}

func (SessionStopRequest) isMessage() {}

// ClientRequest carries a parsed wire request from a Session Handler to the
// Coordinator. WaitSeconds is only meaningful for WaitAuth, AddUser and
// DelUser; a DELUSER with a negative wait is translated to DelAllUser by
// the Session Handler before this message is ever constructed.
type ClientRequest struct {
	ID          SessionID
	Kind        RequestKind
	User        string
	WaitSeconds int
}

func (ClientRequest) isMessage() {}
