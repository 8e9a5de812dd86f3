package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/money"
	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/storage"
)

var rule = strings.Repeat("-", 60)

// PrintHeader prints the command header
func PrintHeader(w io.Writer, command, owner string) {
	fmt.Fprintf(w, "reconcile: %s (%s)\n", command, owner)
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintImportSummary prints a statement import result
func PrintImportSummary(w io.Writer, result *reconcile.ImportResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Summary: Total=%d Imported=%d Duplicates=%d Invalid=%d Failed=%d\n",
		result.Total, result.Imported, result.Duplicates, result.Invalid, result.Failed)
	if result.Report != nil && result.Report.FailedOpen {
		fmt.Fprintln(w, "Duplicate check unavailable: every row was treated as new")
	}
	printLines(w, "Invalid rows", result.InvalidReasons)
	printLines(w, "Errors", result.Errors)

	if result.CardMatching != nil {
		fmt.Fprintln(w)
		PrintCreditCardSummary(w, result.CardMatching)
	}
}

// PrintLineItemImportSummary prints a line item import result
func PrintLineItemImportSummary(w io.Writer, result *reconcile.LineItemImportResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Invoice %s: Total=%d Imported=%d Duplicates=%d Invalid=%d Failed=%d\n",
		result.InvoiceID, result.Total, result.Imported, result.Duplicates, result.Invalid, result.Failed)
	printLines(w, "Invalid items", result.InvalidReasons)
	printLines(w, "Errors", result.Errors)

	if result.Matching != nil {
		fmt.Fprintln(w)
		PrintBatchSummary(w, result.Matching)
	}
}

// PrintCreditCardSummary prints a settlement run result
func PrintCreditCardSummary(w io.Writer, result *reconcile.CreditCardRunResult) {
	fmt.Fprintf(w, "Card settlement: Matched=%d Settlements=%d Errors=%d\n",
		result.MatchedCCTransactions, len(result.Settlements), len(result.Errors))
	for _, m := range result.Settlements {
		fmt.Fprintf(w, "  %s  linked=%d total=%s discrepancy=%s confidence=%.2f\n",
			m.BankTransactionID, m.LinkedCount,
			money.FormatMinorUnits(m.TotalLinkedAmount), money.FormatMinorUnits(m.Discrepancy), m.Confidence)
	}
	printLines(w, "Errors", result.Errors)
}

// PrintBatchSummary prints a line item run result
func PrintBatchSummary(w io.Writer, result *reconcile.BatchResult) {
	fmt.Fprintf(w, "Line items: Invoices=%d/%d Matched=%d Skipped=%d Failed=%d\n",
		result.ProcessedInvoices, result.TotalInvoices, result.Matched, result.Skipped, result.Failed)
	for _, inv := range result.Results {
		for _, s := range inv.Suggestions {
			fmt.Fprintf(w, "  suggestion: line item %s -> transaction %s (score %.1f)\n", s.LineItemID, s.TransactionID, s.Score)
		}
		printLines(w, "Errors in "+inv.InvoiceID, inv.Errors)
	}
}

// PrintUpload prints a file check result
func PrintUpload(w io.Writer, result *reconcile.UploadResult) {
	check := result.Check
	switch {
	case check.Blocking:
		fmt.Fprintln(w, "Duplicate: this file was already uploaded")
	case check.IsDuplicate:
		fmt.Fprintln(w, "Possible duplicate")
	case check.FailedOpen:
		fmt.Fprintln(w, "Duplicate check unavailable: treated as new")
	default:
		fmt.Fprintln(w, "New file")
	}
	for _, m := range check.Matches {
		fmt.Fprintf(w, "  %s %s (%.0f%%): %s\n", m.MatchType, m.Filename, m.Confidence, m.Reason)
	}
	if result.File != nil {
		fmt.Fprintf(w, "Registered as %s\n", result.File.ID)
	}
}

// PrintRuns prints a run history table
func PrintRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-6s %-20s %-22s %-6s %-6s %-6s %-6s %s\n", "ID", "KIND", "STATUS", "TOTAL", "OK", "SKIP", "FAIL", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-6d %-20s %-22s %-6d %-6d %-6d %-6d %s\n",
			r.ID, r.Kind, r.Status, r.Total, r.Succeeded, r.Skipped, r.Failed, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
}

func printLines(w io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, l := range lines {
		fmt.Fprintf(w, "  - %s\n", l)
	}
}
