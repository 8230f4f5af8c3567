package abi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONABIEntry represents a single entry in an Ethereum JSON ABI array.
type JSONABIEntry struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Inputs    []JSONABIInput `json:"inputs"`
	Anonymous bool           `json:"anonymous"`
}

// JSONABIInput represents a single input parameter in a JSON ABI entry.
type JSONABIInput struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Indexed    bool           `json:"indexed"`
	Components []JSONABIInput `json:"components,omitempty"`
}

// ParseJSONABI parses a full contract ABI and returns its event definitions.
// Functions, constructors and errors are skipped; anonymous events are
// rejected because they carry no topic0 to route on.
func ParseJSONABI(jsonData []byte) ([]*ParsedEvent, error) {
	var entries []JSONABIEntry
	if err := json.Unmarshal(jsonData, &entries); err != nil {
		return nil, fmt.Errorf("abi: parse JSON ABI: %w", err)
	}

	var events []*ParsedEvent
	for _, entry := range entries {
		if entry.Type != "event" {
			continue
		}
		if entry.Anonymous {
			return nil, fmt.Errorf("abi: anonymous event %q cannot be routed", entry.Name)
		}

		parsed, err := jsonEntryToEvent(entry)
		if err != nil {
			return nil, err
		}
		events = append(events, parsed)
	}

	return events, nil
}

func jsonEntryToEvent(entry JSONABIEntry) (*ParsedEvent, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("abi: event entry has no name")
	}

	params := make([]ParsedParam, len(entry.Inputs))
	for i, input := range entry.Inputs {
		params[i] = ParsedParam{
			Type:    resolveType(input),
			Name:    input.Name,
			Indexed: input.Indexed,
		}
	}

	return &ParsedEvent{
		Name:   entry.Name,
		Params: params,
	}, nil
}

// resolveType converts a JSON ABI input to its canonical Solidity type string,
// expanding tuples to "(type1,type2,...)".
func resolveType(input JSONABIInput) string {
	if len(input.Components) == 0 {
		return input.Type
	}

	suffix := ""
	base := input.Type
	if idx := strings.Index(base, "["); idx >= 0 {
		suffix = base[idx:]
	}

	componentTypes := make([]string, len(input.Components))
	for i, comp := range input.Components {
		componentTypes[i] = resolveType(comp)
	}

	return "(" + strings.Join(componentTypes, ",") + ")" + suffix
}
