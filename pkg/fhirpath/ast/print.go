package ast

import (
	"fmt"
	"strings"
)

// Print renders an AST node back to FHIRPath source text. It is not
// guaranteed to reproduce the original formatting (whitespace, redundant
// parens) but re-parsing its output must produce an equivalent tree -- the
// round-trip property spec.md §8 calls for.
func Print(n Node) string {
	switch v := n.(type) {
	case NullLiteral:
		return "{}"
	case BooleanLiteral:
		if v.Value {
			return "true"
		}
		return "false"
	case StringLiteral:
		return "'" + escapeString(v.Value) + "'"
	case NumberLiteral:
		if v.IsLong {
			return v.Text + "L"
		}
		return v.Text
	case DateLiteral:
		return "@" + v.Text
	case DateTimeLiteral:
		return "@" + v.Text
	case TimeLiteral:
		return "@T" + v.Text
	case QuantityLiteral:
		return v.Text
	case CollectionLiteral:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = Print(item)
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case Identifier:
		return v.Name
	case ExternalConstant:
		return "%" + v.Name
	case ThisInvocation:
		return "$this"
	case IndexInvocation:
		return "$index"
	case TotalInvocation:
		return "$total"
	case FunctionCall:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = Print(a)
		}
		return v.Name + "(" + strings.Join(args, ", ") + ")"
	case Invocation:
		return Print(v.Base) + "." + Print(v.Step)
	case Indexer:
		return Print(v.Base) + "[" + Print(v.Index) + "]"
	case Polarity:
		return v.Op + Print(v.Operand)
	case Multiplicative:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case Additive:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case Union:
		return fmt.Sprintf("(%s | %s)", Print(v.Left), Print(v.Right))
	case Inequality:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case Equality:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case Membership:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case And:
		return fmt.Sprintf("(%s and %s)", Print(v.Left), Print(v.Right))
	case Or:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, Print(v.Right))
	case Implies:
		return fmt.Sprintf("(%s implies %s)", Print(v.Left), Print(v.Right))
	case TypeExpr:
		return fmt.Sprintf("(%s %s %s)", Print(v.Left), v.Op, v.TypeName)
	default:
		return fmt.Sprintf("<unknown node %T>", n)
	}
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}
