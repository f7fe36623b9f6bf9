// Command nfcauthd-credwriter is the privilege-dropped helper the daemon
// execs to persist a proposed credential file. It runs with the requesting
// peer's own UID/GID/supplementary groups, which the daemon sets as its
// process credential before starting it (so it runs as root only when the
// peer itself is root), and the filesystem's
// permissions on the target path are the only access-control boundary that
// matters here.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/nfcauthd/internal/credstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: nfcauthd-credwriter <credential-file-path>")
		return 2
	}
	path := os.Args[1]

	// The umask must leave the group-write bit alone: a freshly created
	// credential file gets mode 0620 so administrators in its group can
	// add/remove entries without being able to read them.
	unix.Umask(0o017)

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		return 1
	}

	var rows [][2]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		fmt.Fprintf(os.Stderr, "decode payload: %v\n", err)
		return 1
	}

	entries := make([]credstore.Entry, len(rows))
	for i, row := range rows {
		entries[i] = credstore.Entry{Username: row[0], HashedUID: row[1]}
	}

	if err := credstore.Write(path, entries); err != nil {
		fmt.Fprintf(os.Stderr, "write credential file: %v\n", err)
		return 1
	}
	return 0
}
