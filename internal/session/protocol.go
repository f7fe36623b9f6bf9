// Package session implements the per-client Session Handler: it parses the
// line-oriented wire protocol, forwards requests to the Coordinator, renders
// Coordinator replies back onto the socket, and persists credential writes
// through a helper process that runs with the connecting peer's privileges.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dantte-lp/nfcauthd/internal/coordinator"
)

// MaxLineLength is the longest a request or reply line may be, per the
// wire protocol's "≤256 printable chars" contract.
const MaxLineLength = 256

// ErrUnparsed is returned by parseLine when a line does not match any
// recognized wire form. Per the error-handling contract this is never
// fatal: the caller ignores the line and keeps the session alive.
var ErrUnparsed = errors.New("session: unrecognized request")

// errBadArgs is wrapped into ErrUnparsed by parseLine when a recognized
// verb has malformed arguments.
var errBadArgs = errors.New("malformed arguments")

// parsedRequest is the in-process representation of one client request
// line, ready to become a coordinator.ClientRequest.
type parsedRequest struct {
	kind        coordinator.RequestKind
	user        string
	waitSeconds int
}

// parseLine parses one line of client input into a parsedRequest. Only the
// five wire forms in the protocol table are recognized; anything else is
// ErrUnparsed.
func parseLine(line string) (parsedRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return parsedRequest{}, ErrUnparsed
	}

	verb := strings.ToUpper(fields[0])
	switch verb {
	case "WAITAUTH":
		return parseUserWait(fields, coordinator.WaitAuth)
	case "ADDUSER":
		return parseUserWait(fields, coordinator.AddUser)
	case "DELUSER":
		return parseDelUser(fields)
	case "WATCHNBUIDS":
		if len(fields) != 1 {
			return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
		}
		return parsedRequest{kind: coordinator.WatchCount}, nil
	case "WATCHUIDS":
		if len(fields) != 1 {
			return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
		}
		return parsedRequest{kind: coordinator.WatchUids}, nil
	default:
		return parsedRequest{}, ErrUnparsed
	}
}

// parseUserWait parses "<VERB> <user> <secs>" for WAITAUTH/ADDUSER, where
// secs must be non-negative.
func parseUserWait(fields []string, kind coordinator.RequestKind) (parsedRequest, error) {
	if len(fields) != 3 {
		return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
	}
	secs, err := strconv.Atoi(fields[2])
	if err != nil || secs < 0 {
		return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
	}
	return parsedRequest{kind: kind, user: fields[1], waitSeconds: secs}, nil
}

// parseDelUser parses "DELUSER <user> <secs>". A negative secs means
// delete-all and is translated to DelAllUser here, before the request ever
// reaches the Coordinator, exactly as the coordinator's message contract
// expects.
func parseDelUser(fields []string) (parsedRequest, error) {
	if len(fields) != 3 {
		return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
	}
	secs, err := strconv.Atoi(fields[2])
	if err != nil {
		return parsedRequest{}, fmt.Errorf("%w: %w", ErrUnparsed, errBadArgs)
	}
	if secs < 0 {
		return parsedRequest{kind: coordinator.DelAllUser, user: fields[1]}, nil
	}
	return parsedRequest{kind: coordinator.DelUser, user: fields[1], waitSeconds: secs}, nil
}

// renderReply converts a Coordinator reply into the wire line the protocol
// table specifies. An empty line means the reply carries no line of its
// own (socket close); closeAfter reports whether the handler should close
// the socket once the line, if any, has been written. EncrUpdate never
// reaches here: the handler performs the privilege-dropped write first and
// renders the resulting WriteResult instead.
func renderReply(r coordinator.Reply) (line string, closeAfter bool) {
	switch v := r.(type) {
	case coordinator.AuthResult:
		if !v.OK {
			return "NOAUTH", false
		}
		if len(v.UIDs) == 0 {
			return "AUTHOK", false
		}
		parts := make([]string, 0, len(v.UIDs)+1)
		parts = append(parts, "AUTHOK")
		for _, u := range v.UIDs {
			parts = append(parts, string(u))
		}
		return strings.Join(parts, " "), false
	case coordinator.NbUpdate:
		return fmt.Sprintf("NBUIDS %d %d", v.Count, v.Delta), false
	case coordinator.UidsUpdate:
		parts := make([]string, 0, len(v.UIDs)+1)
		parts = append(parts, "UIDS")
		for _, u := range v.UIDs {
			parts = append(parts, string(u))
		}
		return strings.Join(parts, " "), false
	case coordinator.EncrUpdateErrExists:
		return "EXISTS", false
	case coordinator.EncrUpdateErrNone:
		return "NONE", false
	case coordinator.EncrUpdateErrTimeout:
		return "TIMEOUT", false
	case coordinator.NoAuth:
		return "NOAUTH", false
	case coordinator.WriteResult:
		if v.OK {
			return "OK", false
		}
		return "WRITEERR", false
	case coordinator.VoidRequestTimeout:
		return "", true
	case coordinator.Stop:
		return "", true
	default:
		return "", false
	}
}
