// Command localsync-server is the listening side of a LocalSync pair.
//
// On first start it prints its certificate and a one-time pairing secret.
// The client operator enters both; after pairing, every line the client
// sends is printed here.
//
// Usage:
//
//	localsync-server [flags]
//	localsync-server sync [flags]
//	localsync-server cert
//	localsync-server import <base64-certificate>
//
// Examples:
//
//	# Pair and receive on the default port 8080
//	localsync-server --store ~/.localsync/server.json
//
//	# Accept any number of clients and announce via mDNS
//	localsync-server sync --advertise
package main

import (
	"os"

	"github.com/localsync/localsync-go/cmd/localsync-server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
