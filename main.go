// Relay is a local first pipeline runner.
//
// Relay runs the stages of a pipeline file (default relay.yml) one after
// another, on the host or inside docker containers, and dispatches post hooks
// based on how the run ended.
package main

import (
	"github.com/opnlabs/relay/cmd/relay"
)

func main() {
	relay.Execute()
}
