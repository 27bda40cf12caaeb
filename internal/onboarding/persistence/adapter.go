package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// Source names the store a loaded snapshot came from.
type Source string

const (
	SourceNone   Source = "none"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// DefaultDebounce is the remote write coalescing window.
const DefaultDebounce = 1500 * time.Millisecond

// Options configures an Adapter.
type Options struct {
	// Debounce is the remote write window. Zero means DefaultDebounce; negative writes on the next tick.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Adapter combines a LocalCache with an optional RemoteStore. Local writes are synchronous and
// best-effort; remote writes are debounced per (userID, role).
type Adapter struct {
	local    LocalCache
	remote   RemoteStore
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	writers  map[string]*Debouncer
	degraded atomic.Bool
}

// NewAdapter returns an Adapter. remote may be nil for local-only operation.
func NewAdapter(local LocalCache, remote RemoteStore, opts Options) *Adapter {
	if local == nil {
		local = NewMemoryCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := opts.Debounce
	if d == 0 {
		d = DefaultDebounce
	}
	if d < 0 {
		d = 0
	}
	return &Adapter{
		local:    local,
		remote:   remote,
		debounce: d,
		logger:   logger,
		writers:  make(map[string]*Debouncer),
	}
}

// HasRemote reports whether a remote store is configured.
func (a *Adapter) HasRemote() bool { return a.remote != nil }

// Degraded reports whether the last remote write failed.
func (a *Adapter) Degraded() bool { return a.degraded.Load() }

// Load reads both stores and returns the winning snapshot, or nil with SourceNone when neither holds
// a valid one. When both are valid the newer LastUpdatedAt wins and ties go to remote. Invalid or
// unreadable snapshots are treated as absent; the returned error joins every such failure and is
// informational even when a snapshot is returned.
func (a *Adapter) Load(ctx context.Context, userID string, role domain.Role, defs []domain.StepDefinition) (*domain.Progress, Source, error) {
	key := domain.CacheKey(userID, role)
	var errs []error

	local, err := a.loadLocal(ctx, key, userID, role, defs)
	if err != nil {
		errs = append(errs, err)
		a.logger.Warn("onboarding local snapshot discarded", zap.String("key", key), zap.Error(err))
	}
	var remote *domain.Progress
	if a.remote != nil {
		remote, err = a.loadRemote(ctx, key, userID, role, defs)
		if err != nil {
			errs = append(errs, err)
			a.logger.Warn("onboarding remote snapshot unavailable", zap.String("key", key), zap.Error(err))
		}
	}
	loadErr := errors.Join(errs...)

	switch {
	case local == nil && remote == nil:
		return nil, SourceNone, loadErr
	case remote == nil:
		if a.remote != nil && loadErr == nil {
			// Remote has nothing yet; push the device copy up.
			a.writer(key).Schedule(local)
		}
		return local, SourceLocal, loadErr
	case local == nil || !local.LastUpdatedAt.After(remote.LastUpdatedAt):
		if err := a.putLocal(ctx, key, remote); err != nil {
			a.logger.Warn("onboarding local write-through failed", zap.String("key", key), zap.Error(err))
		}
		return remote, SourceRemote, loadErr
	default:
		a.writer(key).Schedule(local)
		return local, SourceLocal, loadErr
	}
}

func (a *Adapter) loadLocal(ctx context.Context, key, userID string, role domain.Role, defs []domain.StepDefinition) (*domain.Progress, error) {
	raw, ok, err := a.local.Get(ctx, key)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: BackendLocal, Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	var p domain.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &PersistenceError{Op: "decode", Backend: BackendLocal, Key: key, Err: err}
	}
	if err := p.ValidateFor(userID, role, defs); err != nil {
		return nil, &PersistenceError{Op: "validate", Backend: BackendLocal, Key: key, Err: err}
	}
	return &p, nil
}

func (a *Adapter) loadRemote(ctx context.Context, key, userID string, role domain.Role, defs []domain.StepDefinition) (*domain.Progress, error) {
	p, err := a.remote.Load(ctx, userID, role)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Backend: BackendRemote, Key: key, Err: err}
	}
	if p == nil {
		return nil, nil
	}
	if err := p.ValidateFor(userID, role, defs); err != nil {
		return nil, &PersistenceError{Op: "validate", Backend: BackendRemote, Key: key, Err: err}
	}
	return p, nil
}

// Save writes p to the local cache now and schedules a debounced remote write.
// The returned error only reports a local failure; callers log it and carry on.
func (a *Adapter) Save(ctx context.Context, p *domain.Progress) error {
	key := domain.CacheKey(p.UserID, p.Role)
	err := a.putLocal(ctx, key, p)
	if err != nil {
		a.logger.Warn("onboarding local save failed", zap.String("key", key), zap.Error(err))
	}
	if a.remote != nil {
		a.writer(key).Schedule(p)
	}
	return err
}

// Flush writes any pending remote snapshot for (userID, role) immediately.
func (a *Adapter) Flush(ctx context.Context, userID string, role domain.Role) error {
	if a.remote == nil {
		return nil
	}
	return a.writer(domain.CacheKey(userID, role)).Flush(ctx)
}

// Overwrite replaces both copies synchronously, dropping any pending remote write first.
// Used by reset, where a stale debounced snapshot must not land after the fresh one.
func (a *Adapter) Overwrite(ctx context.Context, p *domain.Progress) error {
	key := domain.CacheKey(p.UserID, p.Role)
	if err := a.putLocal(ctx, key, p); err != nil {
		a.logger.Warn("onboarding local overwrite failed", zap.String("key", key), zap.Error(err))
	}
	if a.remote == nil {
		return nil
	}
	return a.writer(key).WriteNow(ctx, p)
}

// Release cancels the pending remote write for (userID, role) and forgets its debouncer.
func (a *Adapter) Release(userID string, role domain.Role) {
	key := domain.CacheKey(userID, role)
	a.mu.Lock()
	w, ok := a.writers[key]
	delete(a.writers, key)
	a.mu.Unlock()
	if ok {
		w.Close()
	}
}

// FlushAll writes every pending remote snapshot now. Used on shutdown before sessions are closed.
func (a *Adapter) FlushAll(ctx context.Context) error {
	a.mu.Lock()
	writers := make([]*Debouncer, 0, len(a.writers))
	for _, w := range a.writers {
		writers = append(writers, w)
	}
	a.mu.Unlock()
	var errs []error
	for _, w := range writers {
		if err := w.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close cancels every pending remote write and waits for in-flight ones.
func (a *Adapter) Close() {
	a.mu.Lock()
	writers := a.writers
	a.writers = make(map[string]*Debouncer)
	a.mu.Unlock()
	for _, w := range writers {
		w.Close()
	}
}

func (a *Adapter) putLocal(ctx context.Context, key string, p *domain.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return &PersistenceError{Op: "encode", Backend: BackendLocal, Key: key, Err: err}
	}
	if err := a.local.Put(ctx, key, b); err != nil {
		return &PersistenceError{Op: "save", Backend: BackendLocal, Key: key, Err: err}
	}
	return nil
}

func (a *Adapter) writer(key string) *Debouncer {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.writers[key]
	if !ok {
		w = NewDebouncer(a.debounce, a.writeRemote, nil)
		a.writers[key] = w
	}
	return w
}

func (a *Adapter) writeRemote(ctx context.Context, p *domain.Progress) error {
	key := domain.CacheKey(p.UserID, p.Role)
	if err := a.remote.Save(ctx, p); err != nil {
		if !a.degraded.Swap(true) {
			a.logger.Warn("onboarding remote store degraded", zap.String("key", key), zap.Error(err))
		}
		return &PersistenceError{Op: "save", Backend: BackendRemote, Key: key, Err: err}
	}
	if a.degraded.Swap(false) {
		a.logger.Info("onboarding remote store recovered", zap.String("key", key))
	}
	return nil
}
