package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/kernel"
)

// FetchResult is the JSON payload of the fetch command.
type FetchResult struct {
	Files []FileView `json:"files"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <name>...",
		Short: "Make kernel files local",
		Long: `Search the configured roots for each named file and download the ones
that are missing, using the URL recorded in the catalog. Downloads run in
parallel and are verified against the catalog's checksums.

Example:
  furnish fetch naif0012.tls de440.bsp`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runFetch(opts *RootOptions, names []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer sess.Close()

	d := sess.describer()
	files := make([]*kernel.File, len(names))
	for i, name := range names {
		files[i] = kernel.LookupFile(name, d)
	}
	files = kernel.Dedupe(files)

	if err := sess.cache().EnsureAll(cmd.Context(), files); err != nil {
		return formatter.Fail(ExitFailure, "fetch failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(FetchResult{Files: fileViews(files)})
	}
	fmt.Fprintf(formatter.Writer, "%d file(s) local\n", len(files))
	writeFiles(formatter.Writer, files)
	return nil
}
