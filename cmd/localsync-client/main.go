// Command localsync-client is the dialing side of a LocalSync pair.
//
// Without a subcommand it starts an interactive prompt. Import the
// server certificate, connect, enter the pairing secret once, then send
// lines of text.
//
// Usage:
//
//	localsync-client [flags]
//	localsync-client send <text>... [flags]
//	localsync-client discover [flags]
//	localsync-client cert [flags]
//
// Examples:
//
//	# Interactive session against a server on this machine
//	localsync-client --address localhost:8080 --store ~/.localsync/client.json
//
//	# Find the paired server via mDNS and send one message
//	localsync-client send --discover "hello"
package main

import (
	"os"

	"github.com/localsync/localsync-go/cmd/localsync-client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
