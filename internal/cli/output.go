package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/furnish/internal/compiler"
	"github.com/roach88/furnish/internal/fetch"
	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (coverage gap, fetch, toolkit)
	ExitCommandError = 2 // Bad input (config, recipe definitions, arguments, database)
)

// Error codes reported in JSON output and text errors.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Configuration could not be loaded
	ErrCodeDatabase    = "E003" // Database open or query failed
	ErrCodeCatalog     = "E004" // Catalog file or index could not be read
	ErrCodeRecipes     = "E005" // Recipe definitions failed to load or build
	ErrCodeNotFound    = "E006" // Unknown recipe or kernel
	ErrCodeArgument    = "E007" // Invalid flag or argument value
	ErrCodeCoverage    = "E010" // Requested range not covered
	ErrCodeAmbiguous   = "E011" // Tied candidates
	ErrCodeFetch       = "E012" // Download or integrity failure
	ErrCodeToolkit     = "E013" // Toolkit load/unload failure
	ErrCodeWriteFailed = "E014" // Output file could not be written
)

// ExitError carries an exit code and a stable error code out of a command.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	ErrCode string // E0xx code; empty means ErrCodeGeneric
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, errCode, message string) *ExitError {
	return &ExitError{Code: code, ErrCode: errCode, Message: message}
}

// WrapExitError wraps err, deriving the error code from its type.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, ErrCode: ErrorCode(err), Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode maps an error from the library packages to its E0xx code.
func ErrorCode(err error) string {
	var (
		exitErr *ExitError
		loadErr *LoadError
		compErr *compiler.CompileError
		valErr  compiler.ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exitErr) && exitErr.ErrCode != "":
		return exitErr.ErrCode
	case errors.As(err, &loadErr):
		return loadErr.Code
	case kernel.IsCoverageGap(err):
		return ErrCodeCoverage
	case kernel.IsAmbiguousSelection(err):
		return ErrCodeAmbiguous
	case fetch.IsFetchError(err):
		return ErrCodeFetch
	case furnish.IsToolkitError(err):
		return ErrCodeToolkit
	case errors.Is(err, recipe.ErrNotFound):
		return ErrCodeNotFound
	case errors.As(err, &compErr), errors.As(err, &valErr), compiler.IsCycleError(err):
		return ErrCodeRecipes
	default:
		return ErrCodeGeneric
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON reports whether output is machine readable.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success writes data. In text mode data is printed with fmt; commands with
// richer text output write it themselves and call Success only for JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an *ExitError with the given exit code.
func (f *OutputFormatter) Fail(code int, message string, err error) error {
	exitErr := WrapExitError(code, message, err)
	_ = f.Error(exitErr.ErrCode, exitErr.Error(), errorDetails(err))
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// errorDetails extracts structured context from typed errors.
func errorDetails(err error) any {
	var (
		gap   *kernel.CoverageGapError
		amb   *kernel.AmbiguousSelectionError
		fe    *fetch.FetchError
		tkErr *furnish.ToolkitError
	)
	switch {
	case errors.As(err, &gap):
		gaps := make([]string, len(gap.Gaps))
		for i, g := range gap.Gaps {
			gaps[i] = g.String()
		}
		return map[string]any{"kernel": gap.Kernel, "gaps": gaps}
	case errors.As(err, &amb):
		return map[string]any{"kernel": amb.Kernel, "candidates": amb.Candidates}
	case errors.As(err, &fe):
		return map[string]any{"file": fe.Name, "url": fe.URL, "attempts": fe.Attempts}
	case errors.As(err, &tkErr):
		return map[string]any{"op": string(tkErr.Op), "file": tkErr.Name, "path": tkErr.Path}
	}
	return nil
}
