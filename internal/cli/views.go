package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
)

// FileView is the JSON form of a resolved kernel file.
type FileView struct {
	Name  string `json:"name"`
	KType string `json:"ktype"`
	Path  string `json:"path,omitempty"`
}

func fileViews(files []*kernel.File) []FileView {
	out := make([]FileView, len(files))
	for i, f := range files {
		out[i] = FileView{Name: f.Name(), KType: string(f.KType()), Path: f.LocalPath()}
	}
	return out
}

// OpView is the JSON form of one toolkit call.
type OpView struct {
	Op    string `json:"op"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// TransitionView is the JSON form of a journaled transition.
type TransitionView struct {
	ID          string   `json:"id"`
	Seq         int64    `json:"seq"`
	Recipe      string   `json:"recipe"`
	Range       string   `json:"range"`
	IDs         []int    `json:"ids,omitempty"`
	Outcome     string   `json:"outcome"`
	Previous    string   `json:"previous,omitempty"`
	Files       []string `json:"files"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Ops         []OpView `json:"ops"`
	Error       string   `json:"error,omitempty"`
	At          string   `json:"at"`
}

func transitionView(t *furnish.Transition) TransitionView {
	ops := make([]OpView, len(t.Ops))
	for i, op := range t.Ops {
		ops[i] = OpView{Op: string(op.Op), Name: op.Name, Path: op.Path, Error: op.Err}
	}
	files := t.Files
	if files == nil {
		files = []string{}
	}
	return TransitionView{
		ID:          t.ID,
		Seq:         t.Seq,
		Recipe:      t.Recipe,
		Range:       t.Range.String(),
		IDs:         t.IDs,
		Outcome:     string(t.Outcome),
		Previous:    t.Previous,
		Files:       files,
		Fingerprint: t.Fingerprint,
		Ops:         ops,
		Error:       t.Error,
		At:          t.At.UTC().Format(time.RFC3339),
	}
}

// writeFiles prints one resolved file per line, numbered in load order.
func writeFiles(w io.Writer, files []*kernel.File) {
	width := 0
	for _, f := range files {
		width = max(width, len(f.Name()))
	}
	for i, f := range files {
		line := fmt.Sprintf("%3d  %-*s  %-4s", i+1, width, f.Name(), f.KType())
		if p := f.LocalPath(); p != "" {
			line += "  " + p
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// queryFlags are the --start/--end/--ids flags shared by used and run.
type queryFlags struct {
	start string
	end   string
	ids   []int
}

func (r *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.start, "start", "", "start of the time range (RFC 3339 or yyyy-mm-dd); open when empty")
	cmd.Flags().StringVar(&r.end, "end", "", "end of the time range (RFC 3339 or yyyy-mm-dd); open when empty")
	cmd.Flags().IntSliceVar(&r.ids, "ids", nil, "only kernels defining one of these body or frame ids")
}

func (r *queryFlags) parse() (kernel.Query, error) {
	start, err := kernel.ParseTime(r.start)
	if err != nil {
		return kernel.Query{}, NewExitError(ExitCommandError, ErrCodeArgument, fmt.Sprintf("--start: %v", err))
	}
	end, err := kernel.ParseTime(r.end)
	if err != nil {
		return kernel.Query{}, NewExitError(ExitCommandError, ErrCodeArgument, fmt.Sprintf("--end: %v", err))
	}
	q := kernel.Over(kernel.Between(start, end), r.ids...)
	if !q.Valid() {
		return kernel.Query{}, NewExitError(ExitCommandError, ErrCodeArgument, fmt.Sprintf("invalid range %s: start is after end", q.Range))
	}
	return q, nil
}
