package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/furnish"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit  int
	Recipe string
}

// HistoryResult is the JSON payload of the history command.
type HistoryResult struct {
	Transitions []TransitionView `json:"transitions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled furnish transitions",
		Long: `List the most recent furnish transitions recorded in the database, oldest
first. Each transition shows its outcome and the toolkit calls it made.

Example:
  furnish history --limit 5
  furnish history --recipe cassini --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of transitions")
	cmd.Flags().StringVar(&opts.Recipe, "recipe", "", "only list transitions of this recipe")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Limit <= 0 {
		return formatter.Fail(ExitCommandError, "bad arguments",
			NewExitError(ExitCommandError, ErrCodeArgument, fmt.Sprintf("--limit must be positive, got %d", opts.Limit)))
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer sess.Close()

	var transitions []furnish.Transition
	if opts.Recipe != "" {
		transitions, err = sess.store.RecipeTransitions(cmd.Context(), opts.Recipe, opts.Limit)
	} else {
		transitions, err = sess.store.ListTransitions(cmd.Context(), opts.Limit)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read journal",
			&LoadError{Code: ErrCodeDatabase, Message: err.Error(), Err: err})
	}

	views := make([]TransitionView, len(transitions))
	for i := range transitions {
		views[i] = transitionView(&transitions[i])
	}

	if formatter.JSON() {
		return formatter.Success(HistoryResult{Transitions: views})
	}
	if len(views) == 0 {
		fmt.Fprintln(formatter.Writer, "no transitions recorded")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(formatter.Writer, "#%d %s %s %s %s\n", v.Seq, v.At, v.Recipe, v.Range, v.Outcome)
		for _, op := range v.Ops {
			line := fmt.Sprintf("    %-6s %s", op.Op, op.Name)
			if op.Error != "" {
				line += " (" + op.Error + ")"
			}
			fmt.Fprintln(formatter.Writer, line)
		}
		if v.Error != "" {
			fmt.Fprintf(formatter.Writer, "    error: %s\n", v.Error)
		}
	}
	return nil
}
