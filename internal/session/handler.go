package session

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/nfcauthd/internal/acceptor"
	"github.com/dantte-lp/nfcauthd/internal/coordinator"
)

// PeerIdentity is the identity a Session Handler acts on behalf of. It is a
// plain alias of coordinator.PeerIdentity so the two packages share one
// representation without either importing the other's internals twice.
type PeerIdentity = coordinator.PeerIdentity

// selectTimeout bounds how long the handler's main loop waits on any one
// select iteration, per the concurrency model's "select over
// {coordinator-channel, client-socket, 1-second timeout}" suspension point.
const selectTimeout = time.Second

// Metrics is the subset of the daemon's Prometheus collector a Handler
// reports to. A nil Metrics is valid: every method is a no-op guard.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	RecordAuthOutcome(result string)
	IncWriteError()
}

// Handler mediates one client connection: it parses the wire protocol,
// forwards requests to the Coordinator, renders replies, and persists
// credential-store writes via a privilege-dropped CredentialWriter.
type Handler struct {
	inbox    chan<- coordinator.Message
	credPath string
	writer   CredentialWriter
	metrics  Metrics
	logger   *slog.Logger
}

// Options configures a Handler.
type Options struct {
	Inbox          chan<- coordinator.Message
	CredentialPath string
	Writer         CredentialWriter
	Metrics        Metrics
}

// New constructs a Handler bound to the Coordinator's inbox.
func New(opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		inbox:    opts.Inbox,
		credPath: opts.CredentialPath,
		writer:   opts.Writer,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "session"),
	}
}

// Factory adapts Handler.Handle to the acceptor.SessionFactory signature,
// so an Acceptor can spawn a Handler directly for every verified
// connection.
func (h *Handler) Factory() acceptor.SessionFactory {
	return func(ctx context.Context, conn *net.UnixConn, peer acceptor.Peer) {
		h.Handle(ctx, conn, PeerIdentity{
			PID:      peer.PID,
			UID:      peer.UID,
			GID:      peer.GID,
			Username: peer.Username,
		})
	}
}

// Handle runs one session to completion: it registers with the
// Coordinator, then loops reading client lines and Coordinator replies
// until the socket closes, the Coordinator orders a stop, or ctx is
// canceled.
func (h *Handler) Handle(ctx context.Context, conn *net.UnixConn, peer PeerIdentity) {
	defer conn.Close()

	id := coordinator.SessionID(peer.PID)
	replyCh := make(chan coordinator.Reply, 16)
	ack := make(chan struct{}, 1)

	select {
	case h.inbox <- coordinator.NewSession{ID: id, Peer: peer, ReplyCh: replyCh, Ack: ack}:
	case <-ctx.Done():
		return
	}

	select {
	case <-ack:
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
		h.logger.Warn("session never acked by coordinator", "pid", peer.PID)
		return
	}

	if h.metrics != nil {
		h.metrics.SessionOpened()
		defer h.metrics.SessionClosed()
	}

	lines := make(chan string)
	readErrs := make(chan error, 1)
	readQuit := make(chan struct{})
	defer close(readQuit)
	go h.readLines(conn, lines, readErrs, readQuit)

	h.logger.Debug("session started", "pid", peer.PID, "user", peer.Username)
	defer h.logger.Debug("session ended", "pid", peer.PID, "user", peer.Username)

	h.loop(ctx, conn, peer, id, replyCh, lines, readErrs)

	select {
	case h.inbox <- coordinator.SessionStopRequest{ID: id}:
	case <-time.After(time.Second):
	}
}

// loop is the handler's main select: it suspends on the client socket, the
// Coordinator's reply channel, and a one-second timeout, exactly as the
// concurrency model's suspension points require.
func (h *Handler) loop(
	ctx context.Context,
	conn *net.UnixConn,
	peer PeerIdentity,
	id coordinator.SessionID,
	replyCh <-chan coordinator.Reply,
	lines <-chan string,
	readErrs <-chan error,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-readErrs:
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			h.dispatch(ctx, conn, peer, id, line)

		case r := <-replyCh:
			if h.render(ctx, conn, peer, r) {
				return
			}

		case <-time.After(selectTimeout):
			// Idle tick: nothing to do, but the select must wake
			// periodically per the concurrency contract.
		}
	}
}

// dispatch parses one client line and forwards it to the Coordinator.
// Unparsed lines are ignored and the session stays alive, per the
// client-protocol-violation error-handling rule. WATCHUIDS is gated here,
// before ever reaching the Coordinator: a non-superuser peer gets a single
// NOAUTH and the session's request stays whatever it was.
func (h *Handler) dispatch(ctx context.Context, conn *net.UnixConn, peer PeerIdentity, id coordinator.SessionID, line string) {
	if len(line) > MaxLineLength {
		return
	}

	req, err := parseLine(line)
	if err != nil {
		h.logger.Debug("ignoring unparsed line", "pid", peer.PID, "error", err)
		return
	}

	if req.kind == coordinator.WatchUids && !peer.IsSuperuser() {
		h.render(ctx, conn, peer, coordinator.NoAuth{})
		return
	}

	select {
	case h.inbox <- coordinator.ClientRequest{ID: id, Kind: req.kind, User: req.user, WaitSeconds: req.waitSeconds}:
	case <-ctx.Done():
	}
}

// render writes one Coordinator reply to the socket and, for EncrUpdate,
// performs the privilege-dropped credential-file write first. It reports
// whether the handler should terminate the session after this reply.
func (h *Handler) render(ctx context.Context, conn *net.UnixConn, peer PeerIdentity, r coordinator.Reply) bool {
	if auth, ok := r.(coordinator.AuthResult); ok && h.metrics != nil {
		if auth.OK {
			h.metrics.RecordAuthOutcome("ok")
		} else {
			h.metrics.RecordAuthOutcome("no_auth")
		}
	}

	if upd, ok := r.(coordinator.EncrUpdate); ok {
		err := h.writer.Write(peer, h.credPath, upd.Entries)
		if err != nil {
			h.logger.Warn("credential write failed", "pid", peer.PID, "error", err)
			if h.metrics != nil {
				h.metrics.IncWriteError()
			}
		}
		r = coordinator.WriteResult{OK: err == nil}
	}

	line, closeAfter := renderReply(r)
	if line != "" {
		writeLine(conn, line)
	}
	if _, ok := r.(coordinator.Stop); ok {
		return true
	}
	return closeAfter
}

// readLines scans newline- or CR-terminated lines from conn until it
// closes, errors, or the session loop quits, forwarding each to lines. Per
// the wire protocol, accept both \n and \r as terminators.
func (h *Handler) readLines(conn *net.UnixConn, lines chan<- string, errs chan<- error, quit <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, MaxLineLength+1), MaxLineLength+1)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-quit:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case errs <- err:
		default:
		}
	}
}

// scanLinesOrCR is a bufio.SplitFunc that terminates tokens on either \n or
// \r, matching the wire protocol's "\n or \r terminated" line contract.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// writeLine writes line followed by a newline. Write errors are not fatal
// to the caller's control flow: the next select iteration will observe the
// closed socket via readLines and terminate the session.
func writeLine(conn *net.UnixConn, line string) {
	_, _ = conn.Write([]byte(line + "\n"))
}
