package decoder

import (
	"embed"
	"fmt"

	"github.com/hedeqiang/relay/event"
)

// Logical contract names. They appear in journal file names and records.
const (
	DonationRouter = "DonationRouter"
	FlagRegistry   = "FlagRegistry"
)

//go:embed abis/*.json
var abis embed.FS

var contractDefs = map[string]struct {
	abiFile string
	binders map[event.Kind]Binder
}{
	DonationRouter: {
		abiFile: "abis/donation_router.json",
		binders: map[event.Kind]Binder{event.KindDonated: BindAs[event.DonationArgs]()},
	},
	FlagRegistry: {
		abiFile: "abis/flag_registry.json",
		binders: map[event.Kind]Binder{event.KindFlagChanged: BindAs[event.FlagChangedArgs]()},
	},
}

// TableFor builds the decoding table of a known contract.
func TableFor(contract string) (*Table, error) {
	def, ok := contractDefs[contract]
	if !ok {
		return nil, fmt.Errorf("decoder: unknown contract %q", contract)
	}
	raw, err := abis.ReadFile(def.abiFile)
	if err != nil {
		return nil, fmt.Errorf("decoder: %s: %w", contract, err)
	}
	return NewTable(contract, raw, def.binders)
}
