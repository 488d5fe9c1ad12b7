package snapshot

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Provider resolves a canonical URL to its StructureDefinition. It is
// satisfied by pkg/validator.Registry without either package importing the
// other's concrete type.
type Provider interface {
	GetRaw(url string) (*StructureDef, bool)
}

// Generator resolves base-chain inheritance to a single resolved element
// list per profile, memoized in an LRU cache keyed by canonical URL.
//
// Mirrors the LRU + double-checked-locking idiom of pkg/fhirpath.ExpressionCache.
type Generator struct {
	provider Provider

	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	lruList *list.List
	limit   int
	hits    int64
	misses  int64
}

type cacheEntry struct {
	snapshot []ElementDef
	// rules is the compiled RuleSet for this snapshot, computed lazily on
	// first Rules() call and cached alongside it — the rule cache and the
	// snapshot cache share one key and one eviction lifetime, per spec.md
	// §4.H ("cached by the same key").
	rules    *RuleSet
	key      string
	element  *list.Element
	lastUsed time.Time
}

// CacheStats mirrors pkg/fhirpath.CacheStats for the snapshot cache.
type CacheStats struct {
	Size   int
	Limit  int
	Hits   int64
	Misses int64
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// NewGenerator creates a Generator backed by the given provider, with an LRU
// snapshot cache bounded at limit entries (<=0 means unbounded).
func NewGenerator(provider Provider, limit int) *Generator {
	return &Generator{
		provider: provider,
		cache:    make(map[string]*cacheEntry),
		lruList:  list.New(),
		limit:    limit,
	}
}

// Stats returns cache performance statistics.
func (g *Generator) Stats() CacheStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return CacheStats{Size: len(g.cache), Limit: g.limit, Hits: g.hits, Misses: g.misses}
}

// Clear empties the snapshot cache.
func (g *Generator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string]*cacheEntry)
	g.lruList = list.New()
	g.hits, g.misses = 0, 0
}

// Generate resolves the snapshot for url, consulting the cache first.
func (g *Generator) Generate(url string) ([]ElementDef, error) {
	if snap, ok := g.getCached(url); ok {
		return snap, nil
	}
	return g.generate(url, map[string]bool{}, "")
}

// Rules returns the compiled RuleSet for url, generating and caching the
// snapshot first if necessary. The RuleSet is derived once per cache entry
// and reused for the lifetime of that entry (invalidated by eviction or
// Clear, same as the snapshot itself).
func (g *Generator) Rules(url string) (*RuleSet, error) {
	if _, err := g.Generate(url); err != nil {
		return nil, err
	}

	g.mu.RLock()
	entry, ok := g.cache[url]
	g.mu.RUnlock()
	if !ok {
		return nil, &BaseNotFoundError{URL: url, BaseDefinition: url}
	}
	if entry.rules != nil {
		return entry.rules, nil
	}

	rs := CompileRules(entry.snapshot)
	g.mu.Lock()
	entry.rules = rs
	g.mu.Unlock()
	return rs, nil
}

func (g *Generator) getCached(url string) ([]ElementDef, bool) {
	g.mu.RLock()
	entry, ok := g.cache[url]
	g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	g.mu.Lock()
	g.lruList.MoveToFront(entry.element)
	entry.lastUsed = time.Now()
	g.hits++
	g.mu.Unlock()
	return entry.snapshot, true
}

func (g *Generator) putCached(url string, snap []ElementDef) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.cache[url]; ok {
		entry.snapshot = snap
		g.lruList.MoveToFront(entry.element)
		entry.lastUsed = time.Now()
		return
	}

	g.misses++
	if g.limit > 0 && len(g.cache) >= g.limit {
		g.evictLRU()
	}
	entry := &cacheEntry{snapshot: snap, key: url, lastUsed: time.Now()}
	entry.element = g.lruList.PushFront(entry)
	g.cache[url] = entry
}

func (g *Generator) evictLRU() {
	oldest := g.lruList.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*cacheEntry)
	g.lruList.Remove(oldest)
	delete(g.cache, entry.key)
}

// generate implements the 9-step algorithm of spec.md §4.B. visited guards
// against circular base-chains within a single top-level call. referrer is
// the URL whose baseDefinition pointed here, used only for error messages.
func (g *Generator) generate(url string, visited map[string]bool, referrer string) ([]ElementDef, error) {
	if snap, ok := g.getCached(url); ok {
		return snap, nil
	}

	if visited[url] {
		return nil, &CircularDependencyError{URL: url}
	}
	visited[url] = true
	defer delete(visited, url)

	sd, ok := g.provider.GetRaw(url)
	if !ok {
		if referrer != "" {
			return nil, &BaseNotFoundError{URL: referrer, BaseDefinition: url}
		}
		return nil, &BaseNotFoundError{URL: url, BaseDefinition: url}
	}

	if len(sd.Snapshot) > 0 {
		g.putCached(url, sd.Snapshot)
		return sd.Snapshot, nil
	}

	var base []ElementDef
	if sd.BaseDefinition != "" {
		b, err := g.generate(sd.BaseDefinition, visited, url)
		if err != nil {
			return nil, err
		}
		base = b
	}

	var result []ElementDef
	if len(sd.Differential) == 0 {
		result = base
	} else {
		merged, err := mergeDifferential(url, base, sd.Differential)
		if err != nil {
			return nil, err
		}
		result = merged
	}

	g.putCached(url, result)
	return result, nil
}

// mergeDifferential applies each differential element onto its matching base
// element using constraint-only semantics, and inserts genuinely new child
// elements immediately after their parent, preserving base order.
func mergeDifferential(url string, base []ElementDef, differential []ElementDef) ([]ElementDef, error) {
	result := make([]ElementDef, len(base))
	copy(result, base)

	baseIndex := make(map[string]int, len(base))
	for i, e := range base {
		baseIndex[matchKey(e.Path, e.SliceName)] = i
	}
	basePaths := make(map[string]bool, len(base))
	for _, e := range base {
		basePaths[e.Path] = true
	}

	var newChildren []ElementDef

	for _, d := range differential {
		key := matchKey(d.Path, d.SliceName)
		if idx, ok := baseIndex[key]; ok {
			merged, err := mergeElement(result[idx], d)
			if err != nil {
				return nil, fmt.Errorf("snapshot: merging %q: %w", d.Path, err)
			}
			result[idx] = merged
			continue
		}

		// Not a direct match. A slice introducing slicing not present in the
		// base: the parent (matched by path alone, slice unset) is retained
		// and the slice is inserted after it.
		if d.SliceName != "" {
			if idx, ok := baseIndex[matchKey(d.Path, "")]; ok {
				newChildren = append(newChildren, insertAfter{afterIdx: idx, elem: d})
				continue
			}
		}

		// Child introduction: must be a strictly new sub-element of an
		// existing base element.
		parent := parentPath(d.Path)
		if parent == "" || !basePaths[parent] {
			if !basePaths[d.Path] {
				return nil, &InvalidStructureDefinitionError{
					URL:     url,
					Message: fmt.Sprintf("differential element %q introduces a new top-level element with no matching base parent", d.Path),
				}
			}
		}
		newChildren = append(newChildren, insertAfter{afterIdx: len(result) - 1, elem: d})
	}

	return insertChildren(result, base, newChildren), nil
}

type insertAfter struct {
	afterIdx int
	elem     ElementDef
}

// insertChildren inserts each new child element immediately after the
// base-order position of its reference element, preserving relative order
// among elements inserted at the same position.
func insertChildren(result []ElementDef, base []ElementDef, children []insertAfter) []ElementDef {
	if len(children) == 0 {
		return result
	}

	byIdx := make(map[int][]ElementDef)
	for _, c := range children {
		byIdx[c.afterIdx] = append(byIdx[c.afterIdx], c.elem)
	}

	out := make([]ElementDef, 0, len(result)+len(children))
	for i, e := range result {
		out = append(out, e)
		if extra, ok := byIdx[i]; ok {
			out = append(out, extra...)
		}
	}
	return out
}

func matchKey(path, sliceName string) string {
	return path + "::" + sliceName
}

// mergeElement merges a single differential element into its matched base
// element using constraint-only semantics (spec.md §4.B step 6).
func mergeElement(b, d ElementDef) (ElementDef, error) {
	out := b

	if d.Min > b.Min {
		out.Min = d.Min
	} else if d.Min != 0 && d.Min < b.Min {
		return out, fmt.Errorf("min cannot be loosened: base=%d differential=%d", b.Min, d.Min)
	}

	if d.Max != "" && d.Max != b.Max {
		if !maxNarrowsOrEqual(b.Max, d.Max) {
			return out, fmt.Errorf("max cannot be widened: base=%s differential=%s", b.Max, d.Max)
		}
		out.Max = d.Max
	}

	if len(d.Types) > 0 {
		out.Types = restrictTypes(b.Types, d.Types)
	}

	if d.Binding != nil {
		out.Binding = d.Binding
	}

	if len(d.Constraints) > 0 {
		out.Constraints = unionConstraints(b.Constraints, d.Constraints)
	}

	if d.MustSupport {
		out.MustSupport = true
	}
	if d.Fixed != nil {
		out.Fixed = d.Fixed
	}
	if d.Pattern != nil {
		out.Pattern = d.Pattern
	}
	if d.Short != "" {
		out.Short = d.Short
	}
	if d.Definition != "" {
		out.Definition = d.Definition
	}
	if d.Slicing != nil {
		out.Slicing = d.Slicing
	}
	if d.IsSummary {
		out.IsSummary = d.IsSummary
	}
	if d.IsModifier {
		out.IsModifier = d.IsModifier
	}

	return out, nil
}

func maxNarrowsOrEqual(base, diff string) bool {
	if base == "*" {
		return true
	}
	if diff == "*" {
		return false
	}
	var bi, di int
	if _, err := fmt.Sscanf(base, "%d", &bi); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(diff, "%d", &di); err != nil {
		return false
	}
	return di <= bi
}

// restrictTypes keeps only differential types whose code already appears in
// the base type list (a differential may restrict, never broaden, the set
// of allowed types), falling back to the differential list verbatim for
// choice-type declarations where the base carries no types of its own.
func restrictTypes(base, diff []TypeRef) []TypeRef {
	if len(base) == 0 {
		return diff
	}
	allowed := make(map[string]bool, len(base))
	for _, t := range base {
		allowed[t.Code] = true
	}
	out := make([]TypeRef, 0, len(diff))
	for _, t := range diff {
		if allowed[t.Code] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return diff
	}
	return out
}

func unionConstraints(base, diff []ElementConstraint) []ElementConstraint {
	seen := make(map[string]bool, len(base))
	out := make([]ElementConstraint, 0, len(base)+len(diff))
	for _, c := range base {
		seen[c.Key] = true
		out = append(out, c)
	}
	for _, c := range diff {
		if !seen[c.Key] {
			out = append(out, c)
			seen[c.Key] = true
		}
	}
	slices.SortFunc(out, func(a, b ElementConstraint) int {
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
	return out
}
