// Command relay-distributor mints rewards for journaled events that match
// the rule set at RULES_PATH.
package main

import (
	"github.com/hedeqiang/relay/internal/cli"
)

func main() {
	cli.Execute(NewRootCmd())
}
