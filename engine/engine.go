package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// Logger receives store and call diagnostics. Nil uses Logger().
	Logger *zap.Logger

	// Observer is notified of every guest call and host memory transfer.
	Observer CallObserver

	// CacheDir persists compiled modules across processes. Empty keeps the
	// compilation cache in memory, shared by the engine's stores.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone aborts running guest code when the call's context
	// is canceled or times out. The call fails with a trap and the instance
	// is closed.
	CloseOnContextDone bool
}

// Engine creates stores sharing one configuration and compilation cache.
type Engine struct {
	cache    wazero.CompilationCache
	stores   map[*Store]struct{}
	logger   *zap.Logger
	observer CallObserver
	cfg      Config
	mu       sync.Mutex
	closed   bool
}

// New creates an engine. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	e := &Engine{
		stores:   make(map[*Store]struct{}),
		logger:   Logger(),
		observer: nopObserver{},
	}
	if cfg != nil {
		e.cfg = *cfg
		if cfg.Logger != nil {
			e.logger = cfg.Logger
		}
		if cfg.Observer != nil {
			e.observer = cfg.Observer
		}
	}

	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Op("compilation_cache").
				Path(e.cfg.CacheDir).
				Cause(err).
				Build()
		}
		e.cache = cache
	} else {
		e.cache = wazero.NewCompilationCache()
	}

	e.logger.Debug("engine created",
		zap.Uint32("memory_limit_pages", e.cfg.MemoryLimitPages),
		zap.Bool("close_on_context_done", e.cfg.CloseOnContextDone),
		zap.String("cache_dir", e.cfg.CacheDir))
	return e, nil
}

func (e *Engine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(e.cfg.CloseOnContextDone)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc
}

// NewStore creates an isolated store: its own module namespace, generation
// clock and last-error slot.
func (e *Engine) NewStore(ctx context.Context) (*Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed("engine")
	}

	id := uuid.NewString()
	s := &Store{
		id:        id,
		engine:    e,
		runtime:   wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig()),
		logger:    e.logger.With(zap.String("store", id)),
		observer:  e.observer,
		linked:    make(map[string]*Imports),
		instances: make(map[*Instance]struct{}),
	}
	e.stores[s] = struct{}{}
	s.logger.Debug("store created")
	return s, nil
}

func (e *Engine) forget(s *Store) {
	e.mu.Lock()
	delete(e.stores, s)
	e.mu.Unlock()
}

// Close closes every store created by the engine and releases the
// compilation cache. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stores := make([]*Store, 0, len(e.stores))
	for s := range e.stores {
		stores = append(stores, s)
	}
	e.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.cache.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
