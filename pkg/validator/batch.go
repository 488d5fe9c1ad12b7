package validator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// BatchResult pairs one input resource's validation outcome with its index
// in the batch, so callers can correlate failures back to source lines.
type BatchResult struct {
	Index  int
	Result *ValidationResult
	Err    error
}

// ValidateBatch validates each resource in resources independently and
// returns one BatchResult per input, preserving order. A resource that
// fails to parse still yields a BatchResult (Err set, Result nil) rather
// than aborting the batch.
func (v *Validator) ValidateBatch(ctx context.Context, resources [][]byte) []BatchResult {
	results := make([]BatchResult, len(resources))
	for i, r := range resources {
		result, err := v.Validate(ctx, r)
		results[i] = BatchResult{Index: i, Result: result, Err: err}
	}
	return results
}

// ValidateNDJSON validates newline-delimited JSON, one resource per line,
// scanning the input line by line. Blank lines and lines starting with '#'
// are skipped; a line without a resourceType is reported as a fatal issue
// at that index rather than stopping the scan.
func (v *Validator) ValidateNDJSON(ctx context.Context, ndjson []byte) []BatchResult {
	var results []BatchResult
	scanner := bufio.NewScanner(bytes.NewReader(ndjson))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	idx := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		// Cheap peek before the full json.Unmarshal the validator will do
		// anyway inside Validate: a line with no resourceType at all is
		// rejected immediately, skipping StructureDefinition lookup.
		if _, err := jsonparser.GetString(line, resourceTypeKey); err != nil {
			result := NewValidationResult()
			result.AddIssue(ValidationIssue{
				Severity:    SeverityFatal,
				Code:        IssueCodeRequired,
				Diagnostics: fmt.Sprintf("line %d: missing resourceType", idx),
			})
			results = append(results, BatchResult{Index: idx, Result: result})
			idx++
			continue
		}

		line = bytes.Clone(line)
		result, err := v.Validate(ctx, line)
		results = append(results, BatchResult{Index: idx, Result: result, Err: err})
		idx++
	}

	return results
}

// operationOutcome is the minimal, version-agnostic JSON shape emitted by
// ToOperationOutcome. Field order matches the FHIR resource: resourceType
// first, then issue.
type operationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []operationOutcomeIssue `json:"issue"`
}

type operationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// ToOperationOutcome renders a ValidationResult as a FHIR OperationOutcome
// JSON document. An empty-issue result still emits a single informational
// issue, since OperationOutcome.issue has a 1..* cardinality.
func ToOperationOutcome(result *ValidationResult) ([]byte, error) {
	oo := operationOutcome{ResourceType: "OperationOutcome"}

	if result == nil || len(result.Issues) == 0 {
		oo.Issue = []operationOutcomeIssue{{
			Severity:    SeverityInformation,
			Code:        "informational",
			Diagnostics: "All OK",
		}}
	} else {
		oo.Issue = make([]operationOutcomeIssue, len(result.Issues))
		for i, issue := range result.Issues {
			oo.Issue[i] = operationOutcomeIssue{
				Severity:    issue.Severity,
				Code:        issue.Code,
				Diagnostics: issue.Diagnostics,
				Expression:  issue.Expression,
			}
		}
	}

	data, err := json.Marshal(oo)
	if err != nil {
		return nil, fmt.Errorf("validator: encoding OperationOutcome: %w", err)
	}
	return data, nil
}
