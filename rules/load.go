package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/hedeqiang/relay/event"
)

//go:embed schema.json
var ruleSchema string

const ruleSchemaURL = "https://relay.local/schemas/rule.schema.json"

// LoadError describes one rule that was skipped.
type LoadError struct {
	Index int
	Name  string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("rules: rule %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("rules: rule %d: %v", e.Index, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Set is the outcome of loading a rule document: the usable rules in
// document order and the ones that were skipped.
type Set struct {
	Rules   []Rule
	Skipped []*LoadError
}

// Load reads a YAML or JSON rule document from path.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rules: %s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a rule document. The document must be an array; each
// element is validated on its own and invalid ones are reported in
// Set.Skipped rather than failing the whole document.
func Parse(data []byte) (*Set, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc, err := plainValue(&root)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("rule document must be an array, got %T", doc)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	set := &Set{}
	for i, item := range items {
		rule, err := parseRule(schema, i, item)
		if err != nil {
			set.Skipped = append(set.Skipped, &LoadError{Index: i, Name: nameOf(item), Err: err})
			continue
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

var integerLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)

// plainValue converts a YAML node into the values json.Marshal expects.
// Integer literals become json.Number so digits beyond 64 bits survive;
// decoding them into any would go through float64.
func plainValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return plainValue(n.Content[0])
	case yaml.AliasNode:
		return plainValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := plainValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
			}
			val, err := plainValue(v)
			if err != nil {
				return nil, err
			}
			out[k.Value] = val
		}
		return out, nil
	case yaml.ScalarNode:
		if tag := n.ShortTag(); tag == "!!int" || tag == "!!float" {
			digits := strings.ReplaceAll(strings.TrimPrefix(n.Value, "+"), "_", "")
			if integerLiteral.MatchString(digits) {
				return json.Number(digits), nil
			}
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(ruleSchemaURL, bytes.NewReader([]byte(ruleSchema))); err != nil {
		return nil, fmt.Errorf("rules: load schema: %w", err)
	}
	s, err := c.Compile(ruleSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("rules: compile schema: %w", err)
	}
	return s, nil
}

func nameOf(item any) string {
	if m, ok := item.(map[string]any); ok {
		if s, ok := m["name"].(string); ok {
			return s
		}
	}
	return ""
}

type ruleDoc struct {
	Name    string     `json:"name"`
	Trigger event.Kind `json:"trigger"`
	Match   *matchDoc  `json:"match"`
	Where   string     `json:"where"`
	Action  actionDoc  `json:"action"`
}

// matchDoc is the union of both match shapes; the schema has already
// rejected keys that do not belong to the rule's trigger.
type matchDoc struct {
	Payer     *event.Address `json:"payer"`
	Token     *event.Address `json:"token"`
	SKU       *event.Hash    `json:"sku"`
	Amount    *uintValue     `json:"amount"`
	MinAmount *uintValue     `json:"minAmount"`
	TokenID   *uintValue     `json:"tokenId"`
	Bit       *uint8         `json:"bit"`
	Value     *bool          `json:"value"`
	Operator  *event.Address `json:"operator"`
}

type actionDoc struct {
	Type     string      `json:"type"`
	SKU      *event.Hash `json:"sku"`
	Metadata string      `json:"metadata"`
}

// uintValue accepts a decimal string or a JSON integer.
type uintValue struct{ big.Int }

func (u *uintValue) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if _, ok := u.SetString(s, 10); !ok || u.Sign() < 0 {
		return fmt.Errorf("invalid unsigned integer %s", b)
	}
	return nil
}

func (u *uintValue) toBig() *big.Int {
	if u == nil {
		return nil
	}
	return new(big.Int).Set(&u.Int)
}

func parseRule(schema *jsonschema.Schema, index int, item any) (Rule, error) {
	// Round-trip through JSON so the validator and the decoder see plain
	// JSON values regardless of whether the document was YAML.
	raw, err := json.Marshal(item)
	if err != nil {
		return Rule{}, fmt.Errorf("encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Rule{}, fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return Rule{}, err
	}

	var doc ruleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Rule{}, err
	}

	rule := Rule{
		Name:    doc.Name,
		Trigger: doc.Trigger,
		Where:   doc.Where,
	}
	if rule.Name == "" {
		rule.Name = fmt.Sprintf("rule-%d", index)
	}

	if doc.Match != nil {
		switch doc.Trigger {
		case event.KindDonated:
			rule.Match = DonationMatch{
				Payer:     doc.Match.Payer,
				Token:     doc.Match.Token,
				SKU:       doc.Match.SKU,
				Amount:    doc.Match.Amount.toBig(),
				MinAmount: doc.Match.MinAmount.toBig(),
			}
		case event.KindFlagChanged:
			rule.Match = FlagMatch{
				TokenID:  doc.Match.TokenID.toBig(),
				Bit:      doc.Match.Bit,
				Value:    doc.Match.Value,
				Operator: doc.Match.Operator,
			}
		default:
			return Rule{}, fmt.Errorf("unknown trigger %q", doc.Trigger)
		}
	}

	switch doc.Action.Type {
	case "rewardMint":
		rule.Action = RewardMint{SKU: doc.Action.SKU, Metadata: doc.Action.Metadata}
	default:
		return Rule{}, fmt.Errorf("unknown action type %q", doc.Action.Type)
	}

	if err := rule.compile(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}
