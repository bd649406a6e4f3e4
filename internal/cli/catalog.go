package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/fetch"
	"github.com/roach88/furnish/internal/kernel"
)

// CatalogResult is the JSON payload of the catalog subcommands.
type CatalogResult struct {
	Imported int      `json:"imported"`
	Names    []string `json:"names"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the kernel catalog database",
		Long: `Import kernel metadata into the database. Recipes whose sets query the
catalog select among the files recorded here.`,
	}
	cmd.AddCommand(newCatalogImportCommand(rootOpts))
	cmd.AddCommand(newCatalogScanCommand(rootOpts))
	return cmd
}

func newCatalogImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>...",
		Short: "Import catalog YAML files",
		Long: `Read catalog YAML files and upsert every entry into the database.
All files are read before anything is written; an invalid file imports
nothing.

Example:
  furnish catalog import generic.yaml cassini.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			cat, err := catalog.LoadFiles(args...)
			if err != nil {
				return formatter.Fail(ExitCommandError, "failed to read catalog",
					&LoadError{Code: ErrCodeCatalog, Message: err.Error(), Err: err})
			}
			return importEntries(rootOpts, cmd, formatter, cat.Entries(), false)
		},
	}
}

type scanOptions struct {
	ktype  string
	dryRun bool
}

func newCatalogScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Import the kernels listed in a remote directory index",
		Long: `Read an Apache-style directory listing (as served by NAIF and most
mission archives) and import every kernel file in it. Release dates come
from the listing's modification times; versions and families are inferred
from well-known NAIF file names.

Example:
  furnish catalog scan https://naif.jpl.nasa.gov/pub/naif/generic_kernels/lsk/
  furnish catalog scan https://naif.jpl.nasa.gov/pub/naif/generic_kernels/spk/planets/ --ktype spk`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.ktype, "ktype", "", "only import files of this kernel type")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list what would be imported without writing")
	return cmd
}

func runScan(rootOpts *RootOptions, opts *scanOptions, url string, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)

	var want kernel.KType
	if opts.ktype != "" {
		k, err := kernel.ParseKType(opts.ktype)
		if err != nil {
			return formatter.Fail(ExitCommandError, "bad arguments",
				NewExitError(ExitCommandError, ErrCodeArgument, err.Error()))
		}
		want = k
	}

	scanner, err := catalog.NewIndexScanner(fetch.NewMux(nil, "furnish"), 0, nil)
	if err != nil {
		return formatter.Fail(ExitFailure, "scan failed", err)
	}
	entries, err := scanner.Scan(cmd.Context(), url, catalog.NaifGenericRules)
	if err != nil {
		return formatter.Fail(ExitFailure, "scan failed",
			&LoadError{Code: ErrCodeCatalog, Message: err.Error(), Err: err})
	}
	if want != "" {
		kept := entries[:0]
		for _, e := range entries {
			if e.KType == want {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	formatter.VerboseLog("%d kernel(s) listed at %s", len(entries), url)
	return importEntries(rootOpts, cmd, formatter, entries, opts.dryRun)
}

func importEntries(rootOpts *RootOptions, cmd *cobra.Command, formatter *OutputFormatter, entries []catalog.Entry, dryRun bool) error {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	n := len(entries)
	if !dryRun {
		sess, err := openSession(rootOpts)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to open session", err)
		}
		defer sess.Close()

		n, err = sess.store.ImportEntries(cmd.Context(), entries)
		if err != nil {
			return formatter.Fail(ExitCommandError, "import failed",
				&LoadError{Code: ErrCodeDatabase, Message: err.Error(), Err: err})
		}
	}

	if formatter.JSON() {
		return formatter.Success(CatalogResult{Imported: n, Names: names, DryRun: dryRun})
	}
	verb := "imported"
	if dryRun {
		verb = "would import"
	}
	fmt.Fprintf(formatter.Writer, "%s %d kernel(s)\n", verb, n)
	for _, name := range names {
		fmt.Fprintf(formatter.Writer, "  %s\n", name)
	}
	return nil
}
