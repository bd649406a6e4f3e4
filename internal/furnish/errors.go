package furnish

import (
	"errors"
	"fmt"
)

// Op names a toolkit operation.
type Op string

const (
	OpLoad   Op = "load"
	OpUnload Op = "unload"
)

// ToolkitError reports a load or unload the toolkit rejected.
type ToolkitError struct {
	Op   Op
	Name string
	Path string
	Err  error
}

func (e *ToolkitError) Error() string {
	return fmt.Sprintf("toolkit %s %s (%s): %v", e.Op, e.Name, e.Path, e.Err)
}

func (e *ToolkitError) Unwrap() error { return e.Err }

// IsToolkitError returns true if err is or wraps a ToolkitError.
func IsToolkitError(err error) bool {
	var te *ToolkitError
	return errors.As(err, &te)
}
