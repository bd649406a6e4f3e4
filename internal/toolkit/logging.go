package toolkit

import (
	"log/slog"
)

// Pool is the load/unload surface shared by every toolkit here. It is the
// same method set as furnish.Toolkit.
type Pool interface {
	Load(path string) error
	Unload(path string) error
}

// Logged wraps a pool and logs every call at debug level and every
// failure at error level.
type Logged struct {
	next   Pool
	logger *slog.Logger
}

// WithLogging decorates next.
func WithLogging(next Pool, logger *slog.Logger) *Logged {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logged{next: next, logger: logger}
}

// Load implements Pool.
func (l *Logged) Load(path string) error {
	return l.log("load", path, l.next.Load(path))
}

// Unload implements Pool.
func (l *Logged) Unload(path string) error {
	return l.log("unload", path, l.next.Unload(path))
}

func (l *Logged) log(op, path string, err error) error {
	if err != nil {
		l.logger.Error("toolkit call failed", "op", op, "path", path, "error", err)
		return err
	}
	l.logger.Debug("toolkit call", "op", op, "path", path)
	return nil
}
