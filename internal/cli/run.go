package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/recipe"
	"github.com/roach88/furnish/internal/toolkit"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	RecipesDir string
	Manifest   string
	query      queryFlags

	// IDGenerator overrides transition ids (for testing).
	// If nil, the engine default (UUIDv7) is used.
	IDGenerator furnish.IDGenerator
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Manifest   string         `json:"manifest"`
	Transition TransitionView `json:"transition"`
	Files      []FileView     `json:"files"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [recipe]",
		Short: "Fetch a recipe's files and write them to the manifest",
		Long: `Resolve a recipe, make every file local (searching the configured roots
and downloading what is missing) and furnish the result into the manifest
metakernel. The transition is recorded in the database journal.

Example:
  furnish run cassini --start 2004-07-01 --end 2004-07-02
  furnish run cassini --manifest ./loaded.tm --verbose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := recipe.DefaultName
			if len(args) == 1 {
				name = args[0]
			}
			return runFurnish(opts, name, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RecipesDir, "recipes", "", "directory of CUE recipe definitions (default: recipes_dir from config)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "metakernel to write (default: manifest from config)")
	opts.query.register(cmd)

	return cmd
}

func runFurnish(opts *RunOptions, name string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	q, err := opts.query.parse()
	if err != nil {
		return formatter.Fail(ExitCommandError, "bad arguments", err)
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if _, err := sess.loadRecipes(opts.RecipesDir); err != nil {
		return formatter.Fail(ExitCommandError, "failed to load recipes", err)
	}

	manifestPath := opts.Manifest
	if manifestPath == "" {
		manifestPath = sess.cfg.Manifest
	}
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return formatter.Fail(ExitCommandError, "failed to create manifest directory",
			&ExitError{ErrCode: ErrCodeWriteFailed, Message: manifestPath, Err: err})
	}
	// The manifest is staged and renamed into place on success, so a failed
	// run leaves the previous one intact.
	staging := manifestPath + ".partial"
	manifest, err := toolkit.NewManifest(staging, fmt.Sprintf("Kernels furnished for recipe %q.", name))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to write manifest",
			&ExitError{ErrCode: ErrCodeWriteFailed, Message: staging, Err: err})
	}
	defer os.Remove(staging)

	var extra []furnish.EngineOption
	if opts.IDGenerator != nil {
		extra = append(extra, furnish.WithIDGenerator(opts.IDGenerator))
	}
	eng, err := sess.engine(cmd.Context(), toolkit.WithLogging(manifest, sess.logger), extra...)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to start engine", err)
	}

	slog.Debug("furnishing", "recipe", name, "query", q.String(), "manifest", manifestPath)
	transition, err := eng.Furnish(cmd.Context(), name, q)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			return formatter.Fail(ExitCommandError, fmt.Sprintf("unknown recipe %q", name), err)
		}
		return formatter.Fail(ExitFailure, "furnish failed", err)
	}

	if err := os.Rename(staging, manifestPath); err != nil {
		return formatter.Fail(ExitFailure, "failed to write manifest",
			&ExitError{ErrCode: ErrCodeWriteFailed, Message: manifestPath, Err: err})
	}

	files := eng.Loaded()
	if formatter.JSON() {
		return formatter.Success(RunResult{
			Manifest:   manifestPath,
			Transition: transitionView(transition),
			Files:      fileViews(files),
		})
	}
	loads, unloads := transition.Counts()
	fmt.Fprintf(formatter.Writer, "%s %s: %d file(s), %d loaded, %d unloaded\n",
		transition.Recipe, q, len(files), loads, unloads)
	writeFiles(formatter.Writer, files)
	fmt.Fprintf(formatter.Writer, "manifest: %s\n", manifestPath)
	return nil
}
