package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// CommandFlags are the flags shared by every subcommand. Commands add their
// own flags to Set before calling Parse.
type CommandFlags struct {
	Owner string
	Input string
	JSON  bool

	Set *flag.FlagSet
}

// NewCommandFlags creates the flag set of a subcommand.
func NewCommandFlags(name string, output io.Writer) *CommandFlags {
	f := &CommandFlags{Set: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.Set.SetOutput(output)
	f.Set.StringVar(&f.Owner, "owner", "", "Owner scope, user:<id> or team:<id>")
	f.Set.StringVar(&f.Input, "input", "-", "JSON input file (- reads stdin)")
	f.Set.BoolVar(&f.JSON, "json", false, "Print the full result as JSON")
	return f
}

// Parse parses args and validates the owner.
func (f *CommandFlags) Parse(args []string) (ledger.OwnerID, error) {
	if err := f.Set.Parse(args); err != nil {
		return "", err
	}
	owner, err := ledger.ParseOwnerID(f.Owner)
	if err != nil {
		return "", fmt.Errorf("-owner: %w", err)
	}
	return owner, nil
}

// optionalInt maps a negative flag value to "not set".
func optionalInt(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

// optionalFloat maps a negative flag value to "not set".
func optionalFloat(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return &v
}

// splitIDs splits a comma separated id list, dropping blanks.
func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
