package session

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/dantte-lp/nfcauthd/internal/credstore"
)

// ErrCredWriterFailed is returned when the credential-write helper exits
// non-zero or cannot be started at all.
var ErrCredWriterFailed = errors.New("session: credential write helper failed")

// CredentialWriter persists a proposed credential store on behalf of a
// peer. The daemon's only implementation (helperCredentialWriter) never
// writes the file itself: it execs a short-lived helper binary under the
// peer's own UID/GID/supplementary groups, so the filesystem's own
// permissions on the credential file are the access-control boundary, not
// anything the Coordinator or Session Handler decide in-process.
type CredentialWriter interface {
	Write(peer PeerIdentity, path string, entries []credstore.Entry) error
}

// helperCredentialWriter execs helperPath with the peer's credentials and
// feeds it the proposed credential entries on stdin.
type helperCredentialWriter struct {
	helperPath string
}

// NewHelperCredentialWriter returns a CredentialWriter that execs the
// nfcauthd-credwriter helper binary found at helperPath (typically resolved
// via exec.LookPath against $PATH at startup).
func NewHelperCredentialWriter(helperPath string) CredentialWriter {
	return &helperCredentialWriter{helperPath: helperPath}
}

func (h *helperCredentialWriter) Write(peer PeerIdentity, path string, entries []credstore.Entry) error {
	groups, err := supplementaryGroups(peer.UID)
	if err != nil {
		return fmt.Errorf("%w: resolve supplementary groups: %w", ErrCredWriterFailed, err)
	}

	payload, err := credstore.Encode(entries)
	if err != nil {
		return fmt.Errorf("%w: encode entries: %w", ErrCredWriterFailed, err)
	}

	cmd := exec.Command(h.helperPath, path)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    peer.UID,
			Gid:    peer.GID,
			Groups: groups,
		},
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrCredWriterFailed, err, stderr.String())
	}
	return nil
}

// supplementaryGroups resolves the supplementary group IDs for the user
// with the given UID, via the system user database.
func supplementaryGroups(uid uint32) ([]uint32, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	groups := make([]uint32, 0, len(ids))
	for _, idStr := range ids {
		n, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(n))
	}
	return groups, nil
}
