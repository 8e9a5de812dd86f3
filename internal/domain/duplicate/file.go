package duplicate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eshaffer321/vat-reconcile/internal/domain/hashing"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/vat-reconcile/internal/domain/merchant"
	"github.com/eshaffer321/vat-reconcile/internal/domain/money"
)

// FileSource looks up an owner's uploaded files.
type FileSource interface {
	FindFilesByHash(ctx context.Context, owner ledger.OwnerID, hash string) ([]ledger.File, error)
	FindFilesByName(ctx context.Context, owner ledger.OwnerID, filename string) ([]ledger.File, error)
}

// InvoiceSource lists an owner's invoices dated within [from, to].
type InvoiceSource interface {
	FindInvoicesInRange(ctx context.Context, owner ledger.OwnerID, from, to time.Time) ([]ledger.Invoice, error)
}

// VendorMatcher decides whether two vendor descriptions are the same vendor.
// *alias.Resolver implements it.
type VendorMatcher interface {
	SameVendor(a, b string) bool
}

// Policy decides what a semantic invoice duplicate does to an upload.
type Policy string

const (
	PolicyWarn  Policy = "warn"
	PolicyBlock Policy = "block"
)

// ParsePolicy returns the policy named s, defaulting to PolicyWarn.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == PolicyBlock {
		return PolicyBlock
	}
	return PolicyWarn
}

const (
	exactFileConfidence    = 100
	modifiedFileConfidence = 75
	semanticConfidence     = 80
)

// SemanticConfig bounds the semantic invoice check.
type SemanticConfig struct {
	AmountPercent float64
	DateDays      int
	Policy        Policy
}

// DefaultSemanticConfig returns ±2% amount, ±2 days, warn only.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{AmountPercent: 2, DateDays: 2, Policy: PolicyWarn}
}

// Normalize clamps out-of-range values to their nearest valid bound.
func (c SemanticConfig) Normalize() SemanticConfig {
	if c.AmountPercent < 0 {
		c.AmountPercent = 0
	}
	if c.AmountPercent > 100 {
		c.AmountPercent = 100
	}
	if c.DateDays < 0 {
		c.DateDays = 0
	}
	if c.DateDays > 365 {
		c.DateDays = 365
	}
	if c.Policy != PolicyBlock {
		c.Policy = PolicyWarn
	}
	return c
}

// FileMatch is evidence that an upload duplicates an existing file or invoice.
type FileMatch struct {
	FileID     string    `json:"file_id,omitempty"`
	InvoiceID  string    `json:"invoice_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"match_reason"`
}

// FileCheck is the outcome of a file-level or semantic check.
type FileCheck struct {
	Hash        string      `json:"hash,omitempty"`
	IsDuplicate bool        `json:"is_duplicate"`
	Blocking    bool        `json:"blocking"`
	Matches     []FileMatch `json:"matches"`
	FailedOpen  bool        `json:"failed_open,omitempty"`
}

// FileDetector is the file-level detector.
type FileDetector struct {
	hasher   *hashing.Generator
	files    FileSource
	invoices InvoiceSource
	cfg      SemanticConfig
	logger   *slog.Logger
}

// NewFileDetector creates a file-level detector.
func NewFileDetector(hasher *hashing.Generator, files FileSource, invoices InvoiceSource, cfg SemanticConfig, logger *slog.Logger) *FileDetector {
	if hasher == nil {
		hasher = hashing.NewGenerator(nil)
	}
	return &FileDetector{
		hasher:   hasher,
		files:    files,
		invoices: invoices,
		cfg:      cfg.Normalize(),
		logger:   loggerOrDiscard(logger),
	}
}

// CheckFile looks for an exact (name+size) upload first and falls back to
// files with the same name but a different hash. Both mark the check as a
// duplicate; only an exact match blocks.
func (d *FileDetector) CheckFile(ctx context.Context, owner ledger.OwnerID, filename string, size int64) *FileCheck {
	check := &FileCheck{Hash: d.hasher.File(filename, size), Matches: []FileMatch{}}

	exact, err := d.files.FindFilesByHash(ctx, owner, check.Hash)
	if err != nil {
		d.warnFailOpen("file hash", owner, err)
		check.FailedOpen = true
		return check
	}
	for _, f := range exact {
		if f.OwnerID != owner {
			continue
		}
		check.Matches = append(check.Matches, FileMatch{
			FileID:     f.ID,
			Filename:   f.Filename,
			MatchType:  MatchExactHash,
			Confidence: exactFileConfidence,
			Reason:     "identical file already uploaded",
		})
	}
	if len(check.Matches) > 0 {
		check.IsDuplicate = true
		check.Blocking = true
		return check
	}

	sameName, err := d.files.FindFilesByName(ctx, owner, strings.TrimSpace(filename))
	if err != nil {
		d.warnFailOpen("file name", owner, err)
		check.FailedOpen = true
		return check
	}
	for _, f := range sameName {
		if f.OwnerID != owner || f.Hash == check.Hash {
			continue
		}
		check.Matches = append(check.Matches, FileMatch{
			FileID:     f.ID,
			Filename:   f.Filename,
			MatchType:  MatchSameFilename,
			Confidence: modifiedFileConfidence,
			Reason:     "possibly modified",
		})
	}
	check.IsDuplicate = len(check.Matches) > 0
	return check
}

// CheckInvoice runs the semantic check for an extracted invoice: another
// invoice of the same owner from the same vendor, amount within the
// configured percent and date within the configured days. Invoices from
// the invoice's own file are excluded. Whether a hit blocks depends on the
// configured policy. A nil vendors uses the merchant normalizer.
func (d *FileDetector) CheckInvoice(ctx context.Context, inv *ledger.Invoice, vendors VendorMatcher) *FileCheck {
	check := &FileCheck{Matches: []FileMatch{}}
	if d.invoices == nil {
		return check
	}

	window := time.Duration(d.cfg.DateDays) * 24 * time.Hour
	from := ledger.DateOnly(inv.InvoiceDate).Add(-window)
	to := ledger.DateOnly(inv.InvoiceDate).Add(window)

	candidates, err := d.invoices.FindInvoicesInRange(ctx, inv.OwnerID, from, to)
	if err != nil {
		d.warnFailOpen("semantic invoice", inv.OwnerID, err)
		check.FailedOpen = true
		return check
	}

	for _, other := range candidates {
		if other.OwnerID != inv.OwnerID || other.ID == inv.ID {
			continue
		}
		if inv.FileID != "" && other.FileID == inv.FileID {
			continue
		}
		if !sameVendor(vendors, inv.VendorName, other.VendorName) {
			continue
		}
		days := ledger.DaysBetween(inv.InvoiceDate, other.InvoiceDate)
		if days > d.cfg.DateDays {
			continue
		}
		if !money.WithinPercent(inv.TotalAmount, other.TotalAmount, inv.TotalAmount, d.cfg.AmountPercent) {
			continue
		}
		pct := money.PercentDiff(inv.TotalAmount, other.TotalAmount, inv.TotalAmount)
		check.Matches = append(check.Matches, FileMatch{
			FileID:     other.FileID,
			InvoiceID:  other.ID,
			MatchType:  MatchSemantic,
			Confidence: semanticConfidence,
			Reason: fmt.Sprintf("same vendor %q, amount differs by %s%%, %d day(s) apart",
				other.VendorName, pct.StringFixed(2), days),
		})
	}

	if len(check.Matches) > 0 {
		check.IsDuplicate = true
		check.Blocking = d.cfg.Policy == PolicyBlock
		d.logger.Info("possible duplicate invoice",
			slog.String("owner", string(inv.OwnerID)),
			slog.String("invoice_id", inv.ID),
			slog.Int("matches", len(check.Matches)),
			slog.Bool("blocking", check.Blocking))
	}
	return check
}

func (d *FileDetector) warnFailOpen(what string, owner ledger.OwnerID, err error) {
	d.logger.Warn("duplicate "+what+" check failed, treating as new",
		slog.String("owner", string(owner)),
		slog.String("error", err.Error()))
}

func sameVendor(vendors VendorMatcher, a, b string) bool {
	if vendors != nil {
		return vendors.SameVendor(a, b)
	}
	return merchant.IsSameMerchant(a, b)
}
