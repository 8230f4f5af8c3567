package rules

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/hedeqiang/relay/event"
)

var (
	envOnce sync.Once
	celEnv  *cel.Env
	envErr  error
)

func whereEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		celEnv, envErr = cel.NewEnv(
			cel.Variable("args", cel.DynType),
			cel.Variable("event", cel.DynType),
		)
	})
	return celEnv, envErr
}

// compile prepares the where expression, if any. Rules built in code
// go through it from NewEngine; loaded rules are compiled at load time.
func (r *Rule) compile() error {
	if r.Where == "" || r.where != nil {
		return nil
	}
	env, err := whereEnv()
	if err != nil {
		return fmt.Errorf("where: env: %w", err)
	}
	ast, issues := env.Compile(r.Where)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("where: compile: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return fmt.Errorf("where: expression yields %s, want bool", t)
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return fmt.Errorf("where: program: %w", err)
	}
	r.where = prg
	return nil
}

// EvalError reports a rule whose where expression failed for a record.
type EvalError struct {
	Rule string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rules: evaluate %s: %v", e.Rule, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Engine evaluates records against an ordered rule set.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over rules, keeping their order.
func NewEngine(rules []Rule) (*Engine, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Match != nil && r.Match.trigger() != r.Trigger {
			return nil, fmt.Errorf("rules: %s: match does not fit trigger %s", r.Name, r.Trigger)
		}
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("rules: %s: %w", r.Name, err)
		}
		compiled[i] = r
	}
	return &Engine{rules: compiled}, nil
}

// Rules returns the rule set in document order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate returns every rule that matches rec, in document order.
// A failing where expression skips only that rule; the failures are
// joined into the returned error as *EvalError values.
func (e *Engine) Evaluate(rec event.Record) ([]Rule, error) {
	var (
		matched []Rule
		errs    []error
		vars    map[string]any
	)
	for _, r := range e.rules {
		if r.Trigger != rec.Event {
			continue
		}
		if r.Match != nil && !r.Match.Matches(rec.Args) {
			continue
		}
		if r.where != nil {
			if vars == nil {
				vars = celVars(rec)
			}
			ok, err := evalWhere(r.where, vars)
			if err != nil {
				errs = append(errs, &EvalError{Rule: r.Name, Err: err})
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, r)
	}
	return matched, errors.Join(errs...)
}

func evalWhere(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result is %T, not bool", out.Value())
	}
	return v, nil
}

// celVars exposes a record to where expressions. Integers wider than
// 64 bits stay decimal strings.
func celVars(rec event.Record) map[string]any {
	args := map[string]any{}
	switch a := rec.Args.(type) {
	case event.DonationArgs:
		args["payer"] = a.Payer.Hex()
		args["token"] = a.Token.Hex()
		args["amount"] = decimal(a.Amount)
		args["sku"] = a.SKU.Hex()
		args["traceId"] = a.TraceID.Hex()
	case event.FlagChangedArgs:
		args["tokenId"] = decimal(a.TokenID)
		args["bit"] = int64(a.Bit)
		args["value"] = a.Value
		args["operator"] = a.Operator.Hex()
		args["traceId"] = a.TraceID.Hex()
	}
	return map[string]any{
		"args": args,
		"event": map[string]any{
			"name":        string(rec.Event),
			"contract":    rec.Contract,
			"chainId":     int64(rec.ChainID),
			"blockNumber": int64(rec.BlockNumber),
			"txHash":      rec.TxHash.Hex(),
			"logIndex":    int64(rec.LogIndex),
		},
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
