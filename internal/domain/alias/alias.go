// Package alias resolves statement descriptions and vendor names to an
// owner's canonical vendor names using priority-ordered pattern rules.
package alias

import (
	"sort"
	"strings"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/merchant"
)

// Resolver holds one owner's aliases sorted by descending priority.
// Aliases with equal priority keep the order they were given in.
type Resolver struct {
	aliases []ledger.VendorAlias
}

// NewResolver builds a resolver over aliases. Aliases with an unknown
// match type or an empty pattern are ignored.
func NewResolver(aliases []ledger.VendorAlias) *Resolver {
	kept := make([]ledger.VendorAlias, 0, len(aliases))
	for _, a := range aliases {
		if !a.MatchType.Valid() || strings.TrimSpace(a.AliasPattern) == "" {
			continue
		}
		kept = append(kept, a)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Priority > kept[j].Priority
	})
	return &Resolver{aliases: kept}
}

// Len returns the number of usable aliases.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.aliases)
}

// Resolve returns the canonical name of the highest-priority alias matching
// description, checking both the raw description and its parsed merchant name.
func (r *Resolver) Resolve(description string) (string, bool) {
	if r == nil || len(r.aliases) == 0 {
		return "", false
	}
	raw := fold(description)
	parsed := fold(merchant.ParseMerchantName(description))
	if raw == "" {
		return "", false
	}

	for _, a := range r.aliases {
		pattern := fold(a.AliasPattern)
		if matches(a.MatchType, raw, pattern) || matches(a.MatchType, parsed, pattern) {
			return a.CanonicalName, true
		}
	}
	return "", false
}

// SameVendor reports whether two descriptions denote the same vendor: both
// resolve to the same canonical name, or neither resolves through an alias
// that distinguishes them and the merchant normalizer says they match.
func (r *Resolver) SameVendor(a, b string) bool {
	canonA, okA := r.Resolve(a)
	canonB, okB := r.Resolve(b)
	switch {
	case okA && okB:
		return fold(canonA) == fold(canonB)
	case okA:
		return merchant.IsSameMerchant(canonA, b)
	case okB:
		return merchant.IsSameMerchant(a, canonB)
	}
	return merchant.IsSameMerchant(a, b)
}

func matches(t ledger.AliasMatchType, s, pattern string) bool {
	if s == "" {
		return false
	}
	switch t {
	case ledger.AliasExact:
		return s == pattern
	case ledger.AliasStartsWith:
		return strings.HasPrefix(s, pattern)
	case ledger.AliasEndsWith:
		return strings.HasSuffix(s, pattern)
	case ledger.AliasContains:
		return strings.Contains(s, pattern)
	}
	return false
}

// fold casefolds s and collapses runs of whitespace.
func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
