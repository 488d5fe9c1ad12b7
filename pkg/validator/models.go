// Package validator provides FHIR resource validation based on StructureDefinitions.
package validator

import "github.com/fhirkit/core/pkg/snapshot"

// StructureDef, ElementDef and friends are owned by pkg/snapshot (the
// snapshot generator needs the same data model the validator walks) and
// re-exported here as aliases so existing validator code and callers can
// keep referring to validator.StructureDef etc.
type (
	StructureDef         = snapshot.StructureDef
	ElementDef           = snapshot.ElementDef
	ElementSlicing       = snapshot.ElementSlicing
	SlicingDiscriminator = snapshot.SlicingDiscriminator
	TypeRef              = snapshot.TypeRef
	ElementBinding       = snapshot.ElementBinding
	ElementConstraint    = snapshot.ElementConstraint
)

// ValidationIssue represents a single validation issue found during validation.
// This is version-agnostic and maps to OperationOutcome.issue in any FHIR version.
type ValidationIssue struct {
	// Severity: fatal | error | warning | information
	Severity string `json:"severity"`
	// Code: structure | required | value | invariant | processing | etc.
	Code string `json:"code"`
	// Diagnostics message (human readable)
	Diagnostics string `json:"diagnostics,omitempty"`
	// Location in the resource (FHIRPath expression)
	Location []string `json:"location,omitempty"`
	// Expression (FHIRPath) that identifies the element
	Expression []string `json:"expression,omitempty"`
}

// ValidationResult contains the result of validating a resource.
type ValidationResult struct {
	// Valid is true if no errors were found (warnings are allowed)
	Valid bool `json:"valid"`
	// Issues contains all validation issues found
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Severity constants for ValidationIssue
const (
	SeverityFatal       = "fatal"
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// Issue code constants (subset of OperationOutcome issue types)
const (
	IssueCodeStructure   = "structure"    // Structural issue
	IssueCodeRequired    = "required"     // Required element missing
	IssueCodeValue       = "value"        // Invalid value
	IssueCodeInvariant   = "invariant"    // Invariant/constraint violation
	IssueCodeProcessing  = "processing"   // Processing error
	IssueCodeInvalid     = "invalid"      // Invalid content
	IssueCodeNotFound    = "not-found"    // Reference not found
	IssueCodeCodeInvalid = "code-invalid" // Invalid code
	IssueCodeExtension   = "extension"    // Extension error
)

// HasErrors returns true if there are any fatal or error severity issues.
func (r *ValidationResult) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityFatal || issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if there are any warning severity issues.
func (r *ValidationResult) HasWarnings() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of fatal and error issues.
func (r *ValidationResult) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityFatal || issue.Severity == SeverityError {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning issues.
func (r *ValidationResult) WarningCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			count++
		}
	}
	return count
}

// AddIssue adds a validation issue to the result.
func (r *ValidationResult) AddIssue(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity == SeverityFatal || issue.Severity == SeverityError {
		r.Valid = false
	}
}

// NewValidationResult creates a new validation result (initially valid).
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Issues: []ValidationIssue{},
	}
}

// Merge combines another validation result into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, issue := range other.Issues {
		r.AddIssue(issue)
	}
}
