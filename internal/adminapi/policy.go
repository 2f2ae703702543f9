package adminapi

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed admin.rego
var defaultPolicy string

// Policy evaluates data.admin.allow for each admin request.
type Policy struct {
	query rego.PreparedEvalQuery
}

// LoadPolicy compiles the rego module at path, or the built-in policy when
// path is empty.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	src := defaultPolicy
	name := "admin.rego"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		src, name = string(b), path
	}
	q, err := rego.New(
		rego.Query("data.admin.allow"),
		rego.Module(name, src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &Policy{query: q}, nil
}

// Allow returns false for anything but an explicit true.
func (p *Policy) Allow(ctx context.Context, input map[string]any) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}
