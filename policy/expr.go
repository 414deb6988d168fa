package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprAuthorizer evaluates a boolean expression against the request and
// target, e.g. `request.staff || target.owner_id == request.subject`.
type ExprAuthorizer struct {
	source  string
	program *vm.Program
}

// Expr compiles an expression authorizer.
func Expr(source string) (*ExprAuthorizer, error) {
	prog, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", source, err)
	}
	return &ExprAuthorizer{source: source, program: prog}, nil
}

// String returns the expression source.
func (a *ExprAuthorizer) String() string { return a.source }

// Allows implements Authorizer. Evaluation errors deny.
func (a *ExprAuthorizer) Allows(req Request, target *Target) bool {
	env := map[string]any{
		"request": map[string]any{
			"subject":       req.Subject,
			"authenticated": req.Authenticated,
			"staff":         req.Staff,
			"attrs":         req.Attrs,
		},
		"target": nil,
	}
	if target != nil {
		env["target"] = map[string]any{
			"owner_id":  target.OwnerID,
			"namespace": target.Namespace,
			"type":      target.Type,
		}
	}
	out, err := expr.Run(a.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}
