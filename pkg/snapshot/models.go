package snapshot

// StructureDef is a version-agnostic internal model for StructureDefinition.
// It extracts only the fields needed for snapshot generation and validation,
// working across R4, R4B, and R5.
type StructureDef struct {
	// URL is the canonical identifier for this StructureDefinition
	URL string `json:"url"`
	// Name is the computer-friendly name
	Name string `json:"name"`
	// Type is the type defined or constrained (e.g., "Patient", "Observation")
	Type string `json:"type"`
	// Kind is the structure kind: primitive-type, complex-type, resource, logical
	Kind string `json:"kind"`
	// Abstract indicates if this is an abstract type
	Abstract bool `json:"abstract"`
	// BaseDefinition is the URL of the parent StructureDefinition
	BaseDefinition string `json:"baseDefinition,omitempty"`
	// FHIRVersion is the FHIR version this definition targets
	FHIRVersion string `json:"fhirVersion,omitempty"`
	// Snapshot contains the full element definitions
	Snapshot []ElementDef `json:"snapshot,omitempty"`
	// Differential contains only the changed elements (for profiles)
	Differential []ElementDef `json:"differential,omitempty"`
}

// ElementDef is a version-agnostic internal model for ElementDefinition.
// Contains all fields needed for snapshot generation and validation across
// FHIR versions.
type ElementDef struct {
	// ID is the unique identifier within the StructureDefinition
	ID string `json:"id,omitempty"`
	// Path is the element path (e.g., "Patient.name", "Patient.name.given")
	Path string `json:"path"`
	// SliceName for sliced elements
	SliceName string `json:"sliceName,omitempty"`
	// Slicing describes the discriminator for a sliced parent element.
	Slicing *ElementSlicing `json:"slicing,omitempty"`
	// Min cardinality (0 or 1 typically)
	Min int `json:"min"`
	// Max cardinality ("*" = unbounded, "0" = prohibited, "1" = single)
	Max string `json:"max"`
	// Types allowed for this element
	Types []TypeRef `json:"type,omitempty"`
	// Short description
	Short string `json:"short,omitempty"`
	// Definition (full description)
	Definition string `json:"definition,omitempty"`
	// Fixed value (if element must have exact value)
	Fixed interface{} `json:"fixed,omitempty"`
	// Pattern value (if element must match pattern)
	Pattern interface{} `json:"pattern,omitempty"`
	// Binding to a ValueSet
	Binding *ElementBinding `json:"binding,omitempty"`
	// Constraints (FHIRPath invariants)
	Constraints []ElementConstraint `json:"constraint,omitempty"`
	// MustSupport indicates if the element is required for conformance
	MustSupport bool `json:"mustSupport,omitempty"`
	// IsModifier indicates if the element can modify other elements' meaning
	IsModifier bool `json:"isModifier,omitempty"`
	// IsSummary indicates if the element is part of the summary view
	IsSummary bool `json:"isSummary,omitempty"`
}

// ElementSlicing describes how a repeating element is partitioned into slices.
type ElementSlicing struct {
	Discriminator []SlicingDiscriminator `json:"discriminator,omitempty"`
	Description   string                 `json:"description,omitempty"`
	Ordered       bool                   `json:"ordered,omitempty"`
	Rules         string                 `json:"rules,omitempty"`
}

// SlicingDiscriminator is one discriminator rule of an ElementSlicing.
type SlicingDiscriminator struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// TypeRef represents a type reference for an element.
type TypeRef struct {
	// Code is the type code (e.g., "string", "Reference", "CodeableConcept")
	Code string `json:"code"`
	// TargetProfile for Reference types - what resources can be referenced
	TargetProfile []string `json:"targetProfile,omitempty"`
	// Profile for complex types - what profiles must be followed
	Profile []string `json:"profile,omitempty"`
}

// ElementBinding represents a terminology binding for an element.
type ElementBinding struct {
	// Strength: required | extensible | preferred | example
	Strength string `json:"strength"`
	// ValueSet URL
	ValueSet string `json:"valueSet,omitempty"`
	// Description of the binding
	Description string `json:"description,omitempty"`
}

// ElementConstraint represents a FHIRPath constraint on an element.
type ElementConstraint struct {
	// Key is the unique constraint identifier (e.g., "ele-1", "pat-1")
	Key string `json:"key"`
	// Severity: error | warning
	Severity string `json:"severity"`
	// Human readable description
	Human string `json:"human,omitempty"`
	// FHIRPath expression to evaluate
	Expression string `json:"expression,omitempty"`
	// XPath expression (legacy, optional)
	XPath string `json:"xpath,omitempty"`
	// Source URL of the constraint definition
	Source string `json:"source,omitempty"`
}

// Path returns the parent path of an element path ("Patient.name.given" -> "Patient.name").
func parentPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return ""
}
