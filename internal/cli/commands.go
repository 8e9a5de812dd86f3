package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eshaffer321/vat-reconcile/internal/api/dto"
	"github.com/eshaffer321/vat-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// ErrUnknownCommand is returned for a subcommand Run does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Commands lists the subcommands in usage order.
var Commands = []struct{ Name, Help string }{
	{"serve", "Run the HTTP API"},
	{"import-bank", "Import parsed bank statement rows"},
	{"import-cc", "Import parsed credit card statement rows"},
	{"import-items", "Save an invoice and import its line items"},
	{"check-file", "Check (and optionally register) an uploaded file"},
	{"match-cc", "Link card purchases to their bank settlements"},
	{"match-items", "Auto-match invoice line items to transactions"},
	{"runs", "List recent batch runs"},
}

// Runner executes subcommands against an App.
type Runner struct {
	App *App
	In  io.Reader
	Out io.Writer
}

// Run dispatches one subcommand.
func (r *Runner) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "serve":
		return r.serve(ctx, args)
	case "import-bank":
		return r.importBank(ctx, args)
	case "import-cc":
		return r.importCreditCards(ctx, args)
	case "import-items":
		return r.importLineItems(ctx, args)
	case "check-file":
		return r.checkFile(ctx, args)
	case "match-cc":
		return r.matchCreditCards(ctx, args)
	case "match-items":
		return r.matchLineItems(ctx, args)
	case "runs":
		return r.runs(ctx, args)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// PrintUsage prints the top-level help.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: reconcile [-config file] [-verbose] <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range Commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.Name, c.Help)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'reconcile <command> -h' for command options.")
}

func (r *Runner) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(r.Out)
	port := fs.Int("port", 0, "Port to listen on (0 = configured port)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return RunServe(ctx, r.App, *port)
}

func (r *Runner) importBank(ctx context.Context, args []string) error {
	f := NewCommandFlags("import-bank", r.Out)
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	var rows []ledger.ParsedTransaction
	if err := r.readInput(f.Input, &rows); err != nil {
		return err
	}

	result, err := r.App.Service.ImportBankStatement(ctx, owner, rows)
	if err != nil {
		return err
	}
	if f.JSON {
		return PrintJSON(r.Out, result)
	}
	PrintHeader(r.Out, "import-bank", string(owner))
	PrintImportSummary(r.Out, result)
	return nil
}

func (r *Runner) importCreditCards(ctx context.Context, args []string) error {
	f := NewCommandFlags("import-cc", r.Out)
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	var rows []ledger.ParsedCreditCardTransaction
	if err := r.readInput(f.Input, &rows); err != nil {
		return err
	}

	result, err := r.App.Service.ImportCreditCardStatement(ctx, owner, rows)
	if err != nil {
		return err
	}
	if f.JSON {
		return PrintJSON(r.Out, result)
	}
	PrintHeader(r.Out, "import-cc", string(owner))
	PrintImportSummary(r.Out, result)
	return nil
}

// invoiceInput is the import-items input: an optional invoice header to save
// first and the line items to attach to it.
type invoiceInput struct {
	Invoice *dto.InvoiceRequest        `json:"invoice,omitempty"`
	Items   []ledger.ExtractedLineItem `json:"items"`
}

func (r *Runner) importLineItems(ctx context.Context, args []string) error {
	f := NewCommandFlags("import-items", r.Out)
	invoiceID := f.Set.String("invoice", "", "Existing invoice id (when the input has no invoice header)")
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	var in invoiceInput
	if err := r.readInput(f.Input, &in); err != nil {
		return err
	}

	id := *invoiceID
	if in.Invoice != nil {
		inv, err := in.Invoice.ToInvoice(owner)
		if err != nil {
			return err
		}
		saved, err := r.App.Service.SaveInvoice(ctx, owner, inv)
		if err != nil {
			return err
		}
		if !saved.Saved {
			if f.JSON {
				_ = PrintJSON(r.Out, saved)
			}
			return fmt.Errorf("invoice refused: %w", reconcile.ErrDuplicateBlocked)
		}
		id = saved.Invoice.ID
	}
	if id == "" {
		return fmt.Errorf("%w: -invoice or an invoice header is required", ledger.ErrInvalidInput)
	}

	result, err := r.App.Service.ImportLineItems(ctx, owner, id, in.Items)
	if err != nil {
		return err
	}
	if f.JSON {
		return PrintJSON(r.Out, result)
	}
	PrintHeader(r.Out, "import-items", string(owner))
	PrintLineItemImportSummary(r.Out, result)
	return nil
}

func (r *Runner) checkFile(ctx context.Context, args []string) error {
	f := NewCommandFlags("check-file", r.Out)
	register := f.Set.Bool("register", false, "Record the file unless it is an exact duplicate")
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}
	if f.Set.NArg() != 1 {
		return fmt.Errorf("%w: check-file takes exactly one file path", ledger.ErrInvalidInput)
	}

	info, err := os.Stat(f.Set.Arg(0))
	if err != nil {
		return err
	}
	name := filepath.Base(info.Name())

	var result *reconcile.UploadResult
	if *register {
		result, err = r.App.Service.RegisterFile(ctx, owner, name, info.Size())
		if err != nil && !errors.Is(err, reconcile.ErrDuplicateBlocked) {
			return err
		}
	} else {
		result = r.App.Service.CheckFile(ctx, owner, name, info.Size())
	}

	if f.JSON {
		if perr := PrintJSON(r.Out, result); perr != nil {
			return perr
		}
	} else {
		PrintHeader(r.Out, "check-file", string(owner))
		PrintUpload(r.Out, result)
	}
	return err
}

func (r *Runner) matchCreditCards(ctx context.Context, args []string) error {
	f := NewCommandFlags("match-cc", r.Out)
	dateTolerance := f.Set.Int("date-tolerance", -1, "Days between purchase and settlement (-1 = configured)")
	amountTolerance := f.Set.Float64("amount-tolerance", -1, "Percent amount tolerance (-1 = configured)")
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	overrides := &reconcile.SettlementOverrides{
		DateToleranceDays:      optionalInt(*dateTolerance),
		AmountTolerancePercent: optionalFloat(*amountTolerance),
	}
	result, err := r.App.Service.RunCreditCardMatching(ctx, owner, overrides)
	if err != nil {
		return err
	}
	if f.JSON {
		return PrintJSON(r.Out, result)
	}
	PrintHeader(r.Out, "match-cc", string(owner))
	fmt.Fprintln(r.Out, rule)
	PrintCreditCardSummary(r.Out, result)
	return nil
}

func (r *Runner) matchLineItems(ctx context.Context, args []string) error {
	f := NewCommandFlags("match-items", r.Out)
	invoices := f.Set.String("invoices", "", "Comma separated invoice ids (empty = all)")
	force := f.Set.Bool("force", false, "Rematch auto-linked line items")
	autoApprove := f.Set.Float64("auto-approve", -1, "Auto-approve threshold (-1 = configured)")
	candidate := f.Set.Float64("candidate", -1, "Candidate threshold (-1 = configured)")
	days := f.Set.Int("days", -1, "Date window in days (-1 = configured)")
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	req := reconcile.LineItemRunRequest{
		InvoiceIDs:   splitIDs(*invoices),
		ForceRematch: *force,
		Overrides: &reconcile.ScoringOverrides{
			AutoApproveThreshold: optionalFloat(*autoApprove),
			CandidateThreshold:   optionalFloat(*candidate),
			DateRangeDays:        optionalInt(*days),
		},
	}
	result, err := r.App.Service.RunLineItemMatching(ctx, owner, req)
	if result != nil {
		if f.JSON {
			_ = PrintJSON(r.Out, result)
		} else {
			PrintHeader(r.Out, "match-items", string(owner))
			fmt.Fprintln(r.Out, rule)
			PrintBatchSummary(r.Out, result)
		}
	}
	return err
}

func (r *Runner) runs(ctx context.Context, args []string) error {
	f := NewCommandFlags("runs", r.Out)
	limit := f.Set.Int("limit", 20, "Number of runs to show")
	owner, err := f.Parse(args)
	if err != nil {
		return err
	}

	runs, err := r.App.Service.ListRuns(ctx, owner, *limit)
	if err != nil {
		return err
	}
	if f.JSON {
		return PrintJSON(r.Out, runs)
	}
	PrintRuns(r.Out, runs)
	return nil
}

// readInput decodes a JSON file, or stdin for "-".
func (r *Runner) readInput(path string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(r.In)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: input is not valid JSON: %v", ledger.ErrInvalidInput, err)
	}
	return nil
}
