package steward

import (
	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// lint parses expr and walks the AST for constructs that make contract
// decisions non-deterministic or non-replayable: float literals, now(), and
// map iteration. Returns human-readable findings; empty means clean.
func lint(env *cel.Env, expr string) []string {
	parsed, issues := env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return []string{issues.Err().Error()}
	}
	var findings []string
	walk(parsed.Expr(), &findings) //nolint:staticcheck // exprpb traversal has no replacement yet
	return findings
}

func walk(e *exprpb.Expr, findings *[]string) {
	if e == nil {
		return
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			*findings = append(*findings, "floating point literals are forbidden in contract rules")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*findings = append(*findings, "now() is forbidden in contract rules")
		case "keys", "values":
			*findings = append(*findings, "map iteration is forbidden in contract rules")
		}
		if call.Target != nil {
			walk(call.Target, findings)
		}
		for _, arg := range call.Args {
			walk(arg, findings)
		}

	case *exprpb.Expr_SelectExpr:
		walk(k.SelectExpr.Operand, findings)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walk(el, findings)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walk(entry.GetMapKey(), findings)
			}
			walk(entry.Value, findings)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walk(comp.IterRange, findings)
		walk(comp.AccuInit, findings)
		walk(comp.LoopCondition, findings)
		walk(comp.LoopStep, findings)
		walk(comp.Result, findings)
	}
}
