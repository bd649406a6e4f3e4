package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/recipe"
)

// UsedOptions holds flags for the used command.
type UsedOptions struct {
	*RootOptions
	RecipesDir string
	query      queryFlags
}

// UsedResult is the JSON payload of the used command.
type UsedResult struct {
	Recipe string     `json:"recipe"`
	Range  string     `json:"range"`
	IDs    []int      `json:"ids,omitempty"`
	Files  []FileView `json:"files"`
}

// NewUsedCommand creates the used command.
func NewUsedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UsedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "used [recipe]",
		Short: "List the files a recipe resolves to",
		Long: `Resolve a recipe for a time range and list the files it would load, in
load order. Nothing is fetched and the manifest is not touched. Without a
recipe name the default recipe is used.

Example:
  furnish used cassini --start 2004-07-01 --end 2004-07-02
  furnish used cassini --ids 699,606
  furnish used --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := recipe.DefaultName
			if len(args) == 1 {
				name = args[0]
			}
			return runUsed(opts, name, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RecipesDir, "recipes", "", "directory of CUE recipe definitions (default: recipes_dir from config)")
	opts.query.register(cmd)

	return cmd
}

func runUsed(opts *UsedOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q, err := opts.query.parse()
	if err != nil {
		return formatter.Fail(ExitCommandError, "bad arguments", err)
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer sess.Close()

	if _, err := sess.loadRecipes(opts.RecipesDir); err != nil {
		return formatter.Fail(ExitCommandError, "failed to load recipes", err)
	}

	eng := furnish.New(sess.registry, sess.cache(), nil, furnish.WithMetrics(sess.metrics))
	files, err := eng.Used(cmd.Context(), name, q)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			return formatter.Fail(ExitCommandError, fmt.Sprintf("unknown recipe %q", name), err)
		}
		return formatter.Fail(ExitFailure, "resolve failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(UsedResult{Recipe: name, Range: q.Range.String(), IDs: q.IDs, Files: fileViews(files)})
	}
	fmt.Fprintf(formatter.Writer, "%s %s: %d file(s)\n", name, q, len(files))
	writeFiles(formatter.Writer, files)
	return nil
}
