package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

func TestResolver_PriorityWins(t *testing.T) {
	r := NewResolver([]ledger.VendorAlias{
		{AliasPattern: "google", MatchType: ledger.AliasContains, CanonicalName: "Google", Priority: 1},
		{AliasPattern: "google cloud", MatchType: ledger.AliasStartsWith, CanonicalName: "GCP", Priority: 10},
	})

	name, ok := r.Resolve("GOOGLE CLOUD EMEA 12345678")
	assert.True(t, ok)
	assert.Equal(t, "GCP", name)

	name, ok = r.Resolve("Google Workspace")
	assert.True(t, ok)
	assert.Equal(t, "Google", name)
}

func TestResolver_TiesKeepInputOrder(t *testing.T) {
	r := NewResolver([]ledger.VendorAlias{
		{AliasPattern: "acme", MatchType: ledger.AliasContains, CanonicalName: "First", Priority: 5},
		{AliasPattern: "acme", MatchType: ledger.AliasContains, CanonicalName: "Second", Priority: 5},
	})
	name, ok := r.Resolve("ACME LTD")
	assert.True(t, ok)
	assert.Equal(t, "First", name)
}

func TestResolver_MatchTypes(t *testing.T) {
	tests := []struct {
		matchType ledger.AliasMatchType
		pattern   string
		desc      string
		want      bool
	}{
		{ledger.AliasExact, "wolt", "WOLT", true},
		{ledger.AliasExact, "wolt", "WOLT TLV", false},
		{ledger.AliasStartsWith, "wolt", "Wolt  Tel Aviv", true},
		{ledger.AliasEndsWith, "tel aviv", "Wolt Tel   Aviv", true},
		{ledger.AliasContains, "חשמל", "העברה לחברת החשמל", true},
		{ledger.AliasContains, "gas", "Electric", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.matchType)+"/"+tt.desc, func(t *testing.T) {
			r := NewResolver([]ledger.VendorAlias{{AliasPattern: tt.pattern, MatchType: tt.matchType, CanonicalName: "X"}})
			_, ok := r.Resolve(tt.desc)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestResolver_ParsedNameIsChecked(t *testing.T) {
	r := NewResolver([]ledger.VendorAlias{
		{AliasPattern: "amazon", MatchType: ledger.AliasExact, CanonicalName: "Amazon"},
	})
	name, ok := r.Resolve("AMZN")
	assert.True(t, ok)
	assert.Equal(t, "Amazon", name)
}

func TestResolver_IgnoresInvalidAliases(t *testing.T) {
	r := NewResolver([]ledger.VendorAlias{
		{AliasPattern: "", MatchType: ledger.AliasContains, CanonicalName: "Empty"},
		{AliasPattern: "x", MatchType: "regex", CanonicalName: "Bad"},
	})
	assert.Equal(t, 0, r.Len())
	_, ok := r.Resolve("x")
	assert.False(t, ok)
}

func TestResolver_SameVendor(t *testing.T) {
	r := NewResolver([]ledger.VendorAlias{
		{AliasPattern: "iec", MatchType: ledger.AliasStartsWith, CanonicalName: "Israel Electric Corp", Priority: 1},
		{AliasPattern: "חברת החשמל", MatchType: ledger.AliasContains, CanonicalName: "Israel Electric Corp", Priority: 1},
	})

	assert.True(t, r.SameVendor("IEC BILL 2024", "העברה לחברת החשמל"))
	assert.True(t, r.SameVendor("Netflix.com 123456", "Netflix"))
	assert.False(t, r.SameVendor("IEC BILL 2024", "Netflix"))

	var nilResolver *Resolver
	assert.True(t, nilResolver.SameVendor("Spotify", "SPOTIFY"))
}
