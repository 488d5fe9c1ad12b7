package snapshot

// CardinalityRule is the compiled min/max occurrence bound for one element
// path, ready for the validator to check without re-walking ElementDef.
type CardinalityRule struct {
	Path string
	Min  int
	Max  string
}

// TypeRule is the compiled set of allowed type codes for one element path.
type TypeRule struct {
	Path  string
	Codes []string
}

// BindingRule is a compiled required-strength terminology binding for one
// element path. Only required-strength bindings are compiled into rules —
// extensible/preferred/example bindings are advisory and never block
// validation, so they stay in the snapshot only.
type BindingRule struct {
	Path     string
	Strength string
	ValueSet string
}

// InvariantRule is a compiled FHIRPath constraint scoped to one element path.
type InvariantRule struct {
	Path       string
	Key        string
	Severity   string
	Expression string
}

// RuleSet is the compiled, validator-ready derivation of a single resolved
// snapshot: one rule per element for each of the four constraint kinds
// pkg/validator checks (cardinality, type, binding, invariant).
type RuleSet struct {
	Cardinalities []CardinalityRule
	Types         []TypeRule
	Bindings      []BindingRule
	Invariants    []InvariantRule
}

// CompileRules derives a RuleSet from an already-resolved element snapshot.
// It is a thin, allocation-light pass over merged elements — no further
// base-chain resolution happens here, that's Generator.generate's job.
func CompileRules(elements []ElementDef) *RuleSet {
	rs := &RuleSet{}
	for _, e := range elements {
		rs.Cardinalities = append(rs.Cardinalities, CardinalityRule{Path: e.Path, Min: e.Min, Max: e.Max})

		if len(e.Types) > 0 {
			codes := make([]string, len(e.Types))
			for i, t := range e.Types {
				codes[i] = t.Code
			}
			rs.Types = append(rs.Types, TypeRule{Path: e.Path, Codes: codes})
		}

		if e.Binding != nil && e.Binding.Strength == "required" {
			rs.Bindings = append(rs.Bindings, BindingRule{
				Path:     e.Path,
				Strength: e.Binding.Strength,
				ValueSet: e.Binding.ValueSet,
			})
		}

		for _, c := range e.Constraints {
			rs.Invariants = append(rs.Invariants, InvariantRule{
				Path:       e.Path,
				Key:        c.Key,
				Severity:   c.Severity,
				Expression: c.Expression,
			})
		}
	}
	return rs
}

// CardinalityFor returns the compiled rule for path, if any.
func (rs *RuleSet) CardinalityFor(path string) (CardinalityRule, bool) {
	for _, r := range rs.Cardinalities {
		if r.Path == path {
			return r, true
		}
	}
	return CardinalityRule{}, false
}

// BindingFor returns the compiled required-strength binding rule for path, if any.
func (rs *RuleSet) BindingFor(path string) (BindingRule, bool) {
	for _, r := range rs.Bindings {
		if r.Path == path {
			return r, true
		}
	}
	return BindingRule{}, false
}
