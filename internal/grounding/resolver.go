package grounding

import (
	"strings"

	"github.com/canonica-labs/groundsql/internal/schema"
)

// Resolver maps table names produced outside the scorer (intent hints,
// tables extracted from generated SQL) onto snapshot names. It is never
// used while scoring.
type Resolver struct {
	snap *schema.Snapshot
}

// NewResolver creates a resolver over snap.
func NewResolver(snap *schema.Snapshot) *Resolver {
	return &Resolver{snap: snap}
}

// Resolve returns the snapshot name for name. It tries the exact name, then
// the lower-case, capitalized and trailing-s-stripped variants, and finally
// a case-insensitive scan.
func (r *Resolver) Resolve(name string) (string, bool) {
	if r.snap == nil {
		return "", false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, v := range variants(name) {
		if _, ok := r.snap.Table(v); ok {
			return v, true
		}
	}
	singular := strings.TrimSuffix(strings.ToLower(name), "s")
	for _, t := range r.snap.Names() {
		lt := strings.ToLower(t)
		if lt == strings.ToLower(name) || lt == singular {
			return t, true
		}
	}
	return "", false
}

// ResolveAll resolves names in order, dropping duplicates. Unresolved names
// are returned separately.
func (r *Resolver) ResolveAll(names []string) (resolved, unresolved []string) {
	seen := map[string]bool{}
	for _, n := range names {
		t, ok := r.Resolve(n)
		if !ok {
			unresolved = append(unresolved, n)
			continue
		}
		if !seen[t] {
			seen[t] = true
			resolved = append(resolved, t)
		}
	}
	return resolved, unresolved
}

func variants(name string) []string {
	lower := strings.ToLower(name)
	out := []string{name, lower, capitalize(lower)}
	if strings.HasSuffix(lower, "s") && len(lower) > 1 {
		stem := lower[:len(lower)-1]
		out = append(out, stem, capitalize(stem))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
