// Command nfcauthctl is the admin CLI for nfcauthd: it speaks the same
// line-oriented Unix-socket protocol any client session uses, so every
// subcommand here is just a thin wrapper around one WAITAUTH/ADDUSER/
// DELUSER/WATCHNBUIDS/WATCHUIDS request.
package main

import "github.com/dantte-lp/nfcauthd/cmd/nfcauthctl/commands"

func main() {
	commands.Execute()
}
