// Package r4 provides FHIR R4 (4.0.1) types, builders, and utilities.
//
// All types in this package are automatically generated from FHIR StructureDefinitions.
// Do not edit generated files manually.
//
// Usage:
//
//	import "github.com/fhirkit/core/pkg/fhir/r4"
//
//	patient := &r4.Patient{}
//	patient.Id = common.String("123")
package r4
