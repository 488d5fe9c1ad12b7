package validator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fhirkit/core/pkg/common"
	"github.com/fhirkit/core/pkg/snapshot"
)

// ValueSetRegistry holds loaded ValueSets keyed by canonical URL (version
// suffix stripped), exposing membership checks for the validator's binding
// rules independent of any terminology service. Only extensional ValueSets
// — those with a populated expansion.contains — are usable for membership;
// intensional (compose-only) ValueSets register but report NotFound on
// lookup, same as an unloaded URL, until expanded elsewhere.
type ValueSetRegistry struct {
	mu   sync.RWMutex
	sets map[string]map[string]bool // url -> "system|code" -> true
	hits int64
	miss int64
}

// NewValueSetRegistry creates an empty registry.
func NewValueSetRegistry() *ValueSetRegistry {
	return &ValueSetRegistry{sets: make(map[string]map[string]bool)}
}

// valueSetEnvelope is the minimal shape read off a ValueSet resource to
// build membership sets; full terminology semantics stay in LocalTerminologyService.
type valueSetEnvelope struct {
	ResourceType string `json:"resourceType"`
	URL          string `json:"url"`
	Expansion    struct {
		Contains []struct {
			System string `json:"system"`
			Code   string `json:"code"`
		} `json:"contains"`
	} `json:"expansion"`
}

// LoadJSON registers one ValueSet resource from raw JSON.
func (r *ValueSetRegistry) LoadJSON(data []byte) error {
	var vs valueSetEnvelope
	if err := json.Unmarshal(data, &vs); err != nil {
		return common.WrapPath("<inline>", err)
	}
	if vs.ResourceType != "ValueSet" {
		return common.WrapPathf("<inline>", "expected ValueSet, got %s", vs.ResourceType)
	}
	if vs.URL == "" {
		return common.WrapPath("<inline>", fmt.Errorf("ValueSet missing url"))
	}

	members := make(map[string]bool, len(vs.Expansion.Contains))
	for _, c := range vs.Expansion.Contains {
		members[c.System+"|"+c.Code] = true
	}

	r.mu.Lock()
	r.sets[normalizeValueSetURL(vs.URL)] = members
	r.mu.Unlock()
	return nil
}

// Contains reports whether system|code is a member of the ValueSet at url.
// The bool result distinguishes "not a member" from "ValueSet not loaded or
// not extensional" (both return false, false) so callers can fall back to a
// TerminologyConfig-backed remote check instead of failing closed.
func (r *ValueSetRegistry) Contains(url, system, code string) (member bool, known bool) {
	r.mu.RLock()
	members, ok := r.sets[normalizeValueSetURL(url)]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		r.miss++
		r.mu.Unlock()
		return false, false
	}

	r.mu.Lock()
	r.hits++
	r.mu.Unlock()

	if system == "" {
		for key := range members {
			if key[len(key)-len(code)-1:] == "|"+code {
				return true, true
			}
		}
		return false, true
	}
	return members[system+"|"+code], true
}

// Stats returns registry hit/miss statistics in the shared CacheStats shape
// (the same struct pkg/fhirpath and pkg/snapshot expose).
func (r *ValueSetRegistry) Stats() snapshot.CacheStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot.CacheStats{Size: len(r.sets), Hits: r.hits, Misses: r.miss}
}
