// Package convreg implements the conversion registry shared with the
// sibling CQL-to-ELM subsystem: a lookup from a (from-type, to-type) pair
// to the canonical name of the function that performs the conversion (e.g.
// "FHIRHelpers.ToCode"). No CQL code lives in this repo; convreg only
// builds and exposes the table that subsystem would consult.
package convreg

import "fmt"

// ModelInfoConversion is the shape a ModelInfo-derived source hands to
// Build: one declared implicit or explicit type conversion.
type ModelInfoConversion struct {
	FromType string
	ToType   string
	Function string
}

// key identifies a conversion by its endpoint types.
type key struct {
	from string
	to   string
}

// Registry maps (from, to) type pairs to the canonical function name that
// converts between them. It is a small, immutable value type — callers
// build one from ModelInfo-shaped input and pass it explicitly to whatever
// needs conversion lookups; convreg holds no package-level state.
type Registry struct {
	conversions map[key]string
}

// Build constructs a Registry from a list of ModelInfo conversions. Later
// entries for the same (from, to) pair overwrite earlier ones, so callers
// should order input from least to most specific (e.g. base model first,
// then profile-specific overrides).
func Build(conversions []ModelInfoConversion) *Registry {
	r := &Registry{conversions: make(map[key]string, len(conversions))}
	for _, c := range conversions {
		r.conversions[key{from: c.FromType, to: c.ToType}] = c.Function
	}
	return r
}

// Lookup returns the canonical function name converting fromType to
// toType, if the registry declares one.
func (r *Registry) Lookup(fromType, toType string) (string, bool) {
	fn, ok := r.conversions[key{from: fromType, to: toType}]
	return fn, ok
}

// MustLookup is Lookup but panics if no conversion is declared, for callers
// that have already validated the pair exists (e.g. a typer that resolved
// the conversion during an earlier pass).
func (r *Registry) MustLookup(fromType, toType string) string {
	fn, ok := r.Lookup(fromType, toType)
	if !ok {
		panic(fmt.Sprintf("convreg: no conversion registered for %s -> %s", fromType, toType))
	}
	return fn
}

// Len returns the number of distinct (from, to) conversions registered.
func (r *Registry) Len() int {
	return len(r.conversions)
}
