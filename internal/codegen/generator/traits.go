package generator

import (
	"fmt"
	"io"

	"github.com/fhirkit/core/internal/codegen/analyzer"
)

// domainResourceFields are the element names FHIR defines on DomainResource;
// resources that extend DomainResource skip emitting these as their own
// Properties and instead promote them through the embedded DomainResource
// field (which itself embeds ResourceBase for id/meta/implicitRules/language).
var domainResourceFields = map[string]bool{
	"text":              true,
	"contained":         true,
	"extension":         true,
	"modifierExtension": true,
}

// resourceBaseFields are inherited from the bare Resource type.
var resourceBaseFields = map[string]bool{
	"id":            true,
	"meta":          true,
	"implicitRules": true,
	"language":      true,
}

// bareResourceTypes extend Resource directly rather than DomainResource.
var bareResourceTypes = map[string]bool{
	"Bundle":     true,
	"Parameters": true,
	"Binary":     true,
}

// baseEmbedFor returns the base struct a resource type should embed for
// inheritance ("" for non-resources, which have no FHIR base to embed).
func baseEmbedFor(t *analyzer.AnalyzedType) string {
	if t.Kind != "resource" {
		return ""
	}
	if bareResourceTypes[t.FHIRName] {
		return "ResourceBase"
	}
	return "DomainResource"
}

// isPromotedField reports whether a property is already supplied through a
// resource's embedded base struct and should not be declared again.
func isPromotedField(t *analyzer.AnalyzedType, jsonName string) bool {
	if t.Kind != "resource" {
		return false
	}
	if resourceBaseFields[jsonName] {
		return true
	}
	if !bareResourceTypes[t.FHIRName] && domainResourceFields[jsonName] {
		return true
	}
	return false
}

// writeValidatableMetadata emits the static INVARIANTS/CARDINALITIES/BINDINGS
// literals the code emitter captures from the source StructureDefinition,
// plus the ValidatableResource method triple that exposes them. Only
// required-strength bindings are emitted as enforcement metadata — weaker
// bindings are advisory and the validator never rejects on them.
func (c *CodeGen) writeValidatableMetadata(w io.Writer, t *analyzer.AnalyzedType) {
	fmt.Fprintf(w, "// %sInvariants holds the FHIRPath constraints declared on %s.\n", t.Name, t.FHIRName)
	fmt.Fprintf(w, "var %sInvariants = []Invariant{\n", t.Name)
	for _, ct := range t.Constraints {
		fmt.Fprintf(w, "\t{Key: %q, Severity: %q, Human: %q, Expression: %q},\n", ct.Key, ct.Severity, ct.Human, ct.Expression)
	}
	fmt.Fprintf(w, "}\n\n")

	fmt.Fprintf(w, "// %sCardinalities holds the min/max occurrence bound of every field, keyed by JSON name.\n", t.Name)
	fmt.Fprintf(w, "var %sCardinalities = map[string]Cardinality{\n", t.Name)
	for _, p := range t.Properties {
		min := 0
		if p.IsRequired {
			min = 1
		}
		max := "1"
		if p.IsArray {
			max = "*"
		}
		fmt.Fprintf(w, "\t%q: {Min: %d, Max: %q},\n", p.JSONName, min, max)
	}
	fmt.Fprintf(w, "}\n\n")

	fmt.Fprintf(w, "// %sBindings holds the required-strength terminology bindings, keyed by JSON name.\n", t.Name)
	fmt.Fprintf(w, "var %sBindings = map[string]Binding{\n", t.Name)
	for _, p := range t.Properties {
		if p.Binding != nil && p.Binding.Strength == "required" {
			fmt.Fprintf(w, "\t%q: {Strength: %q, ValueSet: %q},\n", p.JSONName, p.Binding.Strength, p.Binding.ValueSet)
		}
	}
	fmt.Fprintf(w, "}\n\n")

	fmt.Fprintf(w, "func (r *%s) Invariants() []Invariant { return %sInvariants }\n\n", t.Name, t.Name)
	fmt.Fprintf(w, "func (r *%s) Cardinalities() map[string]Cardinality { return %sCardinalities }\n\n", t.Name, t.Name)
	fmt.Fprintf(w, "func (r *%s) Bindings() map[string]Binding { return %sBindings }\n\n", t.Name, t.Name)
}

// writeTraitMethods emits the Accessors/Mutators/Existence method triple for
// every field: Get<Field> (accessor), Set<Field> (fluent mutator, returns
// the receiver so calls chain like the teacher's builder methods elsewhere
// in this codebase), and Has<Field> (existence check). Base-embedded fields
// (promoted from ResourceBase/DomainResource) are skipped here; the embedded
// base structs supply only GetID, so those fields get no Get/Set/Has methods.
func (c *CodeGen) writeTraitMethods(w io.Writer, t *analyzer.AnalyzedType) {
	props := make([]analyzer.AnalyzedProperty, 0, len(t.Properties))
	for _, p := range t.Properties {
		if isPromotedField(t, p.JSONName) {
			continue
		}
		props = append(props, p)
	}
	if len(props) == 0 {
		return
	}

	fmt.Fprintf(w, "// --- %s: accessors ---\n\n", t.Name)
	for _, p := range props {
		fmt.Fprintf(w, "func (r *%s) Get%s() %s { return r.%s }\n\n", t.Name, p.Name, p.GoType, p.Name)
	}

	fmt.Fprintf(w, "// --- %s: mutators ---\n\n", t.Name)
	for _, p := range props {
		fmt.Fprintf(w, "func (r *%s) Set%s(v %s) *%s {\n\tr.%s = v\n\treturn r\n}\n\n", t.Name, p.Name, p.GoType, t.Name, p.Name)
	}

	fmt.Fprintf(w, "// --- %s: existence ---\n\n", t.Name)
	for _, p := range props {
		fmt.Fprintf(w, "func (r *%s) Has%s() bool { return %s }\n\n", t.Name, p.Name, existenceExpr("r", p))
	}
}

// existenceExpr returns the boolean expression deciding whether a field is
// present. Required non-pointer, non-array complex fields are embedded by
// value and are structurally always present once cardinality is satisfied,
// so they report true rather than risk a non-comparable struct equality
// check against its zero value.
func existenceExpr(receiver string, p analyzer.AnalyzedProperty) string {
	switch {
	case p.IsArray:
		return fmt.Sprintf("len(%s.%s) > 0", receiver, p.Name)
	case p.IsPointer:
		return fmt.Sprintf("%s.%s != nil", receiver, p.Name)
	default:
		return "true"
	}
}
