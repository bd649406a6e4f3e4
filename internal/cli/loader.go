package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/token"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/compiler"
	"github.com/roach88/furnish/internal/config"
	"github.com/roach88/furnish/internal/fetch"
	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/metrics"
	"github.com/roach88/furnish/internal/recipe"
	"github.com/roach88/furnish/internal/store"
)

// LoadError is a failure to assemble the command environment: config,
// database, catalogs or recipe definitions.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// session is everything a command needs, built from the configuration.
type session struct {
	cfg      *config.Config
	store    *store.Store
	catalog  *catalog.Catalog
	registry *recipe.Registry
	priority kernel.Priority
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// openSession loads the config, opens the database and reads the
// configured catalog files. The caller must close the session.
func openSession(opts *RootOptions) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error(), Err: err}
	}
	priority, err := cfg.Priority()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error(), Err: err}
	}

	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("create database directory: %v", err), Err: err}
		}
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), Err: err}
	}

	cat := catalog.New()
	if len(cfg.Catalogs) > 0 {
		cat, err = catalog.LoadFiles(cfg.Catalogs...)
		if err != nil {
			st.Close()
			return nil, &LoadError{Code: ErrCodeCatalog, Message: err.Error(), Err: err}
		}
	}

	m, err := metrics.New(metrics.DefaultNamespace, nil)
	if err != nil {
		st.Close()
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error(), Err: err}
	}

	return &session{
		cfg:      cfg,
		store:    st,
		catalog:  cat,
		registry: recipe.NewRegistry(recipe.WithPriority(priority)),
		priority: priority,
		metrics:  m,
		logger:   slog.Default(),
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// source queries the database first, then the catalog files.
func (s *session) source() kernel.Source {
	return kernel.Sources{s.store, s.catalog}
}

// describer adds basename rules after the explicit sources.
func (s *session) describer() kernel.Describer {
	return kernel.Describers{s.store, s.catalog, catalog.NaifGenericRules}
}

// loadRecipes compiles and builds the recipes under dir, or the configured
// recipes directory when dir is empty. A missing configured directory
// leaves only the default recipe.
func (s *session) loadRecipes(dir string) ([]*recipe.Recipe, error) {
	explicit := dir != ""
	if !explicit {
		dir = s.cfg.RecipesDir
	}
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		s.logger.Debug("recipes directory absent", "path", dir)
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("recipes directory not found: %s", dir), Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	defs, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, convertCompileError(err)
	}
	recipes, err := compiler.Build(s.registry, defs, compiler.Env{
		Catalog:   s.source(),
		Describer: s.describer(),
		Priority:  s.priority,
		Tolerance: s.cfg.Resolve.Tolerance,
		BaseDir:   dir,
	})
	if err != nil {
		return nil, convertCompileError(err)
	}
	s.logger.Debug("recipes loaded", "path", dir, "count", len(recipes))
	return recipes, nil
}

// cache builds the fetch cache from the configuration.
func (s *session) cache() *fetch.Cache {
	f := s.cfg.Fetch
	return fetch.New(
		fetch.Roots{Search: s.cfg.SearchRoots, Downloads: s.cfg.DownloadDir},
		fetch.NewMux(nil, f.UserAgent),
		fetch.WithRetries(f.Retries),
		fetch.WithTimeout(f.Timeout),
		fetch.WithBackoff(f.InitialBackoff, f.MaxBackoff),
		fetch.WithConcurrency(f.Concurrency),
		fetch.WithMetrics(s.metrics),
		fetch.WithLogger(s.logger),
	)
}

// engine builds a furnish engine journaling to the database, with its
// sequence clock resumed after the last recorded transition.
func (s *session) engine(ctx context.Context, tk furnish.Toolkit, extra ...furnish.EngineOption) (*furnish.Engine, error) {
	seq, err := s.store.LastSeq(ctx)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), Err: err}
	}
	opts := []furnish.EngineOption{
		furnish.WithClock(furnish.NewClockAt(seq)),
		furnish.WithJournal(s.store),
		furnish.WithMetrics(s.metrics),
		furnish.WithLogger(s.logger),
		furnish.WithConcurrency(s.cfg.Fetch.Concurrency),
	}
	opts = append(opts, extra...)
	return furnish.New(s.registry, s.cache(), tk, opts...), nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error) *LoadError {
	var (
		compileErr *compiler.CompileError
		valErr     compiler.ValidationError
	)
	switch {
	case errors.As(err, &compileErr):
		return &LoadError{Code: ErrCodeRecipes, Message: compileErr.Error(), Pos: compileErr.Pos, Err: err}
	case errors.As(err, &valErr):
		return &LoadError{Code: ErrCodeRecipes, Message: valErr.Error(), Err: err}
	default:
		return &LoadError{Code: ErrorCode(err), Message: err.Error(), Err: err}
	}
}
