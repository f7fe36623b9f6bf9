// Package acceptor binds the client-facing Unix socket, authenticates
// connecting peers by SO_PEERCRED plus a best-effort parent-process walk,
// and hands each accepted connection off to a SessionFactory.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"

	"golang.org/x/sys/unix"
)

// ErrRemotePeer is returned by identify when a connecting process appears to
// descend from a remote-login parent process.
var ErrRemotePeer = errors.New("acceptor: peer appears to be a remote login session")

// Peer describes an accepted connection's credentials, as resolved from
// SO_PEERCRED and the system passwd database.
type Peer struct {
	PID      int32
	UID      uint32
	GID      uint32
	Username string
}

// SessionFactory is invoked once per accepted connection that passes peer
// verification. It owns the connection from this point on.
type SessionFactory func(ctx context.Context, conn *net.UnixConn, peer Peer)

// Acceptor listens on a Unix socket and dispatches verified connections to
// a SessionFactory.
type Acceptor struct {
	socketPath        string
	remoteParentNames map[string]struct{}
	maxConns          int
	newSession        SessionFactory
	logger            *slog.Logger
}

// New constructs an Acceptor. remoteParentProcessNames lists ancestor
// process names that, if found while walking a peer's process tree, cause
// the connection to be rejected as a remote login. maxConns caps concurrent
// client sessions; connections past the cap are closed immediately. A
// non-positive maxConns means unlimited.
func New(socketPath string, remoteParentProcessNames []string, maxConns int, newSession SessionFactory, logger *slog.Logger) *Acceptor {
	names := make(map[string]struct{}, len(remoteParentProcessNames))
	for _, n := range remoteParentProcessNames {
		names[n] = struct{}{}
	}
	return &Acceptor{
		socketPath:        socketPath,
		remoteParentNames: names,
		maxConns:          maxConns,
		newSession:        newSession,
		logger:            logger.With("component", "acceptor"),
	}
}

// Run binds the socket, accepts connections until ctx is canceled, and
// removes the socket file on return.
func (a *Acceptor) Run(ctx context.Context) error {
	if err := os.Remove(a.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("acceptor: remove stale socket %s: %w", a.socketPath, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: a.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("acceptor: listen on %s: %w", a.socketPath, err)
	}
	defer ln.Close()
	defer os.Remove(a.socketPath)

	// World-writable: any local client may connect. Peer verification
	// happens per-connection via SO_PEERCRED, not via filesystem permission.
	if err := os.Chmod(a.socketPath, 0o666); err != nil {
		return fmt.Errorf("acceptor: chmod %s: %w", a.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.logger.Info("listening", "path", a.socketPath)

	var sem chan struct{}
	if a.maxConns > 0 {
		sem = make(chan struct{}, a.maxConns)
	}

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("accept failed", "error", err)
			continue
		}

		peer, err := a.identify(conn)
		if err != nil {
			a.logger.Debug("rejecting connection", "error", err)
			conn.Close()
			continue
		}

		if sem != nil {
			select {
			case sem <- struct{}{}:
			default:
				a.logger.Warn("connection limit reached, dropping", "pid", peer.PID)
				conn.Close()
				continue
			}
		}

		go func() {
			if sem != nil {
				defer func() { <-sem }()
			}
			a.newSession(ctx, conn, peer)
		}()
	}
}

// identify retrieves the connecting process's credentials via SO_PEERCRED,
// resolves its passwd entry, and rejects it if its process ancestry
// contains a configured remote-login parent.
func (a *Acceptor) identify(conn *net.UnixConn) (Peer, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Peer{}, fmt.Errorf("acceptor: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil {
		return Peer{}, fmt.Errorf("acceptor: control: %w", ctlErr)
	}
	if credErr != nil {
		return Peer{}, fmt.Errorf("acceptor: SO_PEERCRED: %w", credErr)
	}

	if len(a.remoteParentNames) > 0 && isRemoteUser(cred.Pid, a.remoteParentNames) {
		return Peer{}, ErrRemotePeer
	}

	u, err := user.LookupId(fmt.Sprintf("%d", cred.Uid))
	if err != nil {
		return Peer{}, fmt.Errorf("acceptor: lookup uid %d: %w", cred.Uid, err)
	}

	return Peer{
		PID:      cred.Pid,
		UID:      cred.Uid,
		GID:      cred.Gid,
		Username: u.Username,
	}, nil
}
