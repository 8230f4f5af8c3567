// Command relay-indexer journals confirmed DonationRouter and FlagRegistry
// events to LOG_DIR.
package main

import (
	"github.com/hedeqiang/relay/internal/cli"
)

func main() {
	cli.Execute(NewRootCmd())
}
