// Command sentio hosts spoken conversations in front of an ADH server.
//
// Usage:
//
//	sentio [flags] <command> [args]
//
// Commands:
//
//	serve   - run the HTTP API, avatar WebSocket and render loop
//	chat    - stream one agent reply to stdout
//	say     - synthesize text to an audio file
//	listen  - recognize speech from an audio file
//	agents  - list agent engines and their settings
//	ping    - check the ADH server heartbeat
//	bench   - replay text turns against a running host
//	version - print build information
package main

import (
	"fmt"
	"os"

	"github.com/ent0n29/sentio/cmd/sentio/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
