// Package scorer computes the confidence that a ledger transaction pays an
// invoice line item.
//
// The total is the sum of four independently capped components:
//
//	reference  full weight when the line item reference appears as a token
//	           of the transaction description or reference
//	amount     weight * (1 - diff% / tolerance%), zero at or past tolerance
//	date       weight * (1 - days / window), zero at the window edge
//	vendor     full weight when the vendor resolves to the same identity
//
// capped at 100. Both decay functions are linear and monotonic
// non-increasing. A disqualified pair always scores zero.
package scorer

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/merchant"
	"github.com/eshaffer321/vat-reconcile/internal/domain/money"
)

// MaxScore caps a total score.
const MaxScore = 100.0

const minReferenceLen = 3

// Weights are the maximum credit of each component.
type Weights struct {
	Reference float64 `yaml:"reference" json:"reference"`
	Amount    float64 `yaml:"amount" json:"amount"`
	Date      float64 `yaml:"date" json:"date"`
	Vendor    float64 `yaml:"vendor" json:"vendor"`
}

// Config tunes scoring and the downstream thresholds.
type Config struct {
	Weights                Weights
	AmountTolerancePercent float64
	DateRangeDays          int
	AutoApproveThreshold   float64
	CandidateThreshold     float64
	BaseCurrency           string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                Weights{Reference: 40, Amount: 40, Date: 20, Vendor: 25},
		AmountTolerancePercent: 10,
		DateRangeDays:          7,
		AutoApproveThreshold:   85,
		CandidateThreshold:     50,
		BaseCurrency:           "ILS",
	}
}

// Normalize clamps every value into its valid range. The candidate
// threshold never exceeds the auto-approve threshold.
func (c Config) Normalize() Config {
	c.Weights.Reference = clamp(c.Weights.Reference, 0, MaxScore)
	c.Weights.Amount = clamp(c.Weights.Amount, 0, MaxScore)
	c.Weights.Date = clamp(c.Weights.Date, 0, MaxScore)
	c.Weights.Vendor = clamp(c.Weights.Vendor, 0, MaxScore)
	c.AmountTolerancePercent = clamp(c.AmountTolerancePercent, 0, 100)
	if c.DateRangeDays < 0 {
		c.DateRangeDays = 0
	}
	if c.DateRangeDays > 365 {
		c.DateRangeDays = 365
	}
	c.AutoApproveThreshold = clamp(c.AutoApproveThreshold, 0, MaxScore)
	c.CandidateThreshold = clamp(c.CandidateThreshold, 0, MaxScore)
	if c.CandidateThreshold > c.AutoApproveThreshold {
		c.CandidateThreshold = c.AutoApproveThreshold
	}
	c.BaseCurrency = ledger.NormalizeCurrency(c.BaseCurrency)
	if c.BaseCurrency == "" {
		c.BaseCurrency = "ILS"
	}
	return c
}

// VendorMatcher decides whether two vendor descriptions are the same vendor.
type VendorMatcher interface {
	SameVendor(a, b string) bool
}

// Target is what a transaction is scored against.
type Target struct {
	LineItem   *ledger.InvoiceLineItem
	VendorName string
	Vendors    VendorMatcher
}

// Breakdown holds the per-component credit.
type Breakdown struct {
	Reference float64 `json:"reference"`
	Amount    float64 `json:"amount"`
	Date      float64 `json:"date"`
	Vendor    float64 `json:"vendor"`
}

// Result is the outcome of scoring one pair.
type Result struct {
	Total        float64   `json:"total"`
	Breakdown    Breakdown `json:"breakdown"`
	Disqualified bool      `json:"is_disqualified"`
	Reason       string    `json:"reason,omitempty"`
}

// Band classifies a score against the thresholds.
type Band int

const (
	BandNone Band = iota
	BandCandidate
	BandAutoApprove
)

func (b Band) String() string {
	switch b {
	case BandCandidate:
		return "candidate"
	case BandAutoApprove:
		return "auto_approve"
	}
	return "none"
}

// Scorer scores transaction and line item pairs with a fixed config.
type Scorer struct {
	cfg Config
}

// New creates a scorer. The config is normalized.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.Normalize()}
}

// Config returns the normalized config.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Band returns the threshold band of a result.
func (s *Scorer) Band(r Result) Band {
	switch {
	case r.Disqualified:
		return BandNone
	case r.Total >= s.cfg.AutoApproveThreshold:
		return BandAutoApprove
	case r.Total >= s.cfg.CandidateThreshold:
		return BandCandidate
	}
	return BandNone
}

// Score is a pure function of its inputs.
func (s *Scorer) Score(tx *ledger.Transaction, target Target) Result {
	li := target.LineItem
	if li == nil || tx == nil {
		return disqualified("missing record")
	}

	lineCurrency := ledger.NormalizeCurrency(li.Currency)
	txForeign := ledger.NormalizeCurrency(tx.ForeignCurrency)
	if s.isForeign(lineCurrency) && s.isForeign(txForeign) && lineCurrency != txForeign {
		return disqualified("currency mismatch")
	}

	days := ledger.DaysBetween(tx.Date, li.TransactionDate)
	if days > s.cfg.DateRangeDays {
		return disqualified("outside date window")
	}

	// Positive line items are debits paid by negative ledger rows.
	if money.Sign(li.Amount) != 0 && money.Sign(li.Amount) == money.Sign(tx.Amount) {
		return disqualified("amount sign mismatch")
	}

	var b Breakdown
	if referenceMatches(li.ReferenceID, tx) {
		b.Reference = s.cfg.Weights.Reference
	}
	b.Amount = s.amountCredit(li, tx, lineCurrency, txForeign)
	b.Date = s.dateCredit(days)
	b.Vendor = s.vendorCredit(tx, target)

	total := b.Reference + b.Amount + b.Date + b.Vendor
	if total > MaxScore {
		total = MaxScore
	}
	return Result{Total: round2(total), Breakdown: roundBreakdown(b)}
}

func (s *Scorer) isForeign(currency string) bool {
	return currency != "" && currency != s.cfg.BaseCurrency
}

// amountCredit compares magnitudes in the line item's currency: the foreign
// amount of a foreign-currency row, otherwise the ledger amount.
func (s *Scorer) amountCredit(li *ledger.InvoiceLineItem, tx *ledger.Transaction, lineCurrency, txForeign string) float64 {
	txAmount := tx.Amount
	if s.isForeign(lineCurrency) {
		if txForeign != lineCurrency || tx.ForeignAmount == nil {
			return 0
		}
		txAmount = *tx.ForeignAmount
	}

	pct := money.PercentDiff(money.Abs(li.Amount), money.Abs(txAmount), li.Amount)
	tol := decimal.NewFromFloat(s.cfg.AmountTolerancePercent)
	if pct.IsZero() {
		return s.cfg.Weights.Amount
	}
	if tol.IsZero() || pct.GreaterThanOrEqual(tol) {
		return 0
	}
	ratio, _ := decimal.NewFromInt(1).Sub(pct.Div(tol)).Float64()
	return s.cfg.Weights.Amount * ratio
}

func (s *Scorer) dateCredit(days int) float64 {
	if days == 0 {
		return s.cfg.Weights.Date
	}
	if s.cfg.DateRangeDays == 0 || days >= s.cfg.DateRangeDays {
		return 0
	}
	return s.cfg.Weights.Date * (1 - float64(days)/float64(s.cfg.DateRangeDays))
}

func (s *Scorer) vendorCredit(tx *ledger.Transaction, target Target) float64 {
	vendor := strings.TrimSpace(target.VendorName)
	if vendor == "" {
		vendor = target.LineItem.Description
	}
	if vendor == "" || tx.Description == "" {
		return 0
	}
	var same bool
	if target.Vendors != nil {
		same = target.Vendors.SameVendor(tx.Description, vendor)
	} else {
		same = merchant.IsSameMerchant(tx.Description, vendor)
	}
	if same {
		return s.cfg.Weights.Vendor
	}
	return 0
}

// referenceMatches reports whether ref equals a token of the transaction's
// description or reference, ignoring case and the separators - _ /.
func referenceMatches(ref string, tx *ledger.Transaction) bool {
	want := strings.ToLower(strings.TrimSpace(ref))
	if len([]rune(want)) < minReferenceLen {
		return false
	}
	wantCompact := compact(want)
	if len([]rune(wantCompact)) < minReferenceLen {
		return false
	}
	for _, tok := range ReferenceTokens(tx.Description + " " + tx.Reference) {
		if tok == want || compact(tok) == wantCompact {
			return true
		}
	}
	return false
}

// ReferenceTokens splits s into casefolded alphanumeric tokens, keeping
// - _ / inside tokens.
func ReferenceTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '/'
	})
}

func compact(s string) string {
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

func disqualified(reason string) Result {
	return Result{Disqualified: true, Reason: reason}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func roundBreakdown(b Breakdown) Breakdown {
	return Breakdown{
		Reference: round2(b.Reference),
		Amount:    round2(b.Amount),
		Date:      round2(b.Date),
		Vendor:    round2(b.Vendor),
	}
}
