// Package policyrules implements the optional extra static allow rules: a
// file-loaded list of named CEL boolean expressions evaluated against a
// request, forming an eighth access-level tier below the seven the resolver
// otherwise defines; only the legacy invite-link tier is checked after it.
package policyrules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// maxExpressionLength bounds how large a single rule's expression may be,
// so a misconfigured policy file cannot make the evaluator pathologically
// slow to compile.
const maxExpressionLength = 1024

// maxCostBudget bounds the CEL runtime cost of a single evaluation.
const maxCostBudget = 10_000

// evalTimeout bounds how long a single evaluation may run.
const evalTimeout = 250 * time.Millisecond

// RawRule is one entry of the policy rules YAML file.
type RawRule struct {
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// Rule is a compiled RawRule, ready to evaluate.
type Rule struct {
	Name        string
	Description string
	program     cel.Program
}

// Request is the fixed evaluation environment every rule is compiled
// against: host, client IP, path, and scheme of the incoming request.
type Request struct {
	Host     string
	ClientIP string
	Path     string
	Proto    string
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("host", cel.StringType),
		cel.Variable("client_ip", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("proto", cel.StringType),
	)
}

// LoadFile parses and compiles the rules in a YAML file at path. Compile
// failure for any rule is a boot-time error, by design: a typo in a policy
// file should stop the process, not silently disable that rule.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policyrules: read %s: %w", path, err)
	}

	var raw []RawRule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policyrules: parse %s: %w", path, err)
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("policyrules: build CEL environment: %w", err)
	}

	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rule, err := compile(env, r)
		if err != nil {
			return nil, fmt.Errorf("policyrules: rule %q: %w", r.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compile(env *cel.Env, r RawRule) (Rule, error) {
	if r.Name == "" {
		return Rule{}, errors.New("rule name is required")
	}
	if len(r.Expression) == 0 {
		return Rule{}, errors.New("expression is empty")
	}
	if len(r.Expression) > maxExpressionLength {
		return Rule{}, fmt.Errorf("expression too long: %d characters (max %d)", len(r.Expression), maxExpressionLength)
	}

	ast, issues := env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Rule{}, fmt.Errorf("expression must evaluate to a bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize), cel.CostLimit(maxCostBudget))
	if err != nil {
		return Rule{}, fmt.Errorf("program creation failed: %w", err)
	}

	return Rule{Name: r.Name, Description: r.Description, program: prg}, nil
}

// Match evaluates rules in order and returns the name of the first one that
// matches req, or ok=false if none do.
func Match(rules []Rule, req Request) (name string, ok bool) {
	vars := map[string]any{
		"host":      req.Host,
		"client_ip": req.ClientIP,
		"path":      req.Path,
		"proto":     req.Proto,
	}
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	for _, rule := range rules {
		out, _, err := rule.program.ContextEval(ctx, vars)
		if err != nil {
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			return rule.Name, true
		}
	}
	return "", false
}
