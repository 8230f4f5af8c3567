package decoder

import (
	"github.com/hedeqiang/relay/event"
)

// Schema maps topic0 hashes to event definitions.
type Schema struct {
	events map[event.Hash]*EventDef
}

// EventDef describes a parsed event definition.
type EventDef struct {
	Name      string
	Signature string
	SigHash   event.Hash
	Inputs    []ParamDef
}

// ParamDef describes a single event parameter.
type ParamDef struct {
	Name    string
	Type    string
	Indexed bool
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		events: make(map[event.Hash]*EventDef),
	}
}

// Add registers an event definition, replacing any previous one with the same hash.
func (s *Schema) Add(def *EventDef) {
	s.events[def.SigHash] = def
}

// Lookup finds the event definition for the given topic0 hash.
func (s *Schema) Lookup(sigHash event.Hash) (*EventDef, bool) {
	def, ok := s.events[sigHash]
	return def, ok
}

// ByName finds an event definition by its name.
func (s *Schema) ByName(name string) (*EventDef, bool) {
	for _, def := range s.events {
		if def.Name == name {
			return def, true
		}
	}
	return nil, false
}
