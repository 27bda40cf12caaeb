// Package bootstrap builds the onboarding stores and rules from config for the server and the CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/config"
	"nutrition-platform/backend/internal/db"
	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/persistence"
	consulstore "nutrition-platform/backend/internal/onboarding/persistence/consul"
	"nutrition-platform/backend/internal/onboarding/persistence/postgres"
	"nutrition-platform/backend/internal/onboarding/persistence/sqlite"
	"nutrition-platform/backend/internal/onboarding/wizard"
)

// RemoteProgress is a remote progress store that can also drop a snapshot.
type RemoteProgress interface {
	persistence.RemoteStore
	Delete(ctx context.Context, userID string, role domain.Role) error
}

// Stores holds every configured persistence backend. DB, Remote and Submissions are nil when not configured.
type Stores struct {
	DB          *sql.DB
	Local       persistence.LocalCache
	Remote      RemoteProgress
	Adapter     *persistence.Adapter
	Submissions *postgres.SubmissionStore

	closeLocal func() error
	logger     *zap.Logger
}

// OpenStores opens the database, the device cache and the remote store named by cfg. Call Close.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{logger: logger}
	if cfg.DatabaseURL != "" {
		pool, err := db.OpenContext(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		s.DB = pool
		s.Submissions = postgres.NewSubmissionStore(pool)
	}

	s.Local = persistence.NewMemoryCache()
	if cfg.LocalCachePath != "" {
		c, err := sqlite.Open(ctx, cfg.LocalCachePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("local cache: %w", err)
		}
		s.Local, s.closeLocal = c, c.Close
	}

	switch cfg.RemoteStore {
	case config.RemotePostgres:
		if s.DB == nil {
			s.Close()
			return nil, fmt.Errorf("remote store postgres: %w", errNoDatabase)
		}
		s.Remote = postgres.NewProgressStore(s.DB)
	case config.RemoteConsul:
		cs, err := consulstore.NewProgressStore(cfg.ConsulAddr, cfg.ConsulKVPrefix)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("consul: %w", err)
		}
		s.Remote = cs
	}

	debounce := cfg.Debounce()
	if debounce == 0 {
		debounce = -1 // SAVE_DEBOUNCE=0 writes through
	}
	var remote persistence.RemoteStore
	if s.Remote != nil {
		remote = s.Remote
	}
	s.Adapter = persistence.NewAdapter(s.Local, remote, persistence.Options{Debounce: debounce, Logger: logger})
	logger.Info("onboarding stores ready",
		zap.String("remote", cfg.RemoteStore),
		zap.Bool("local_on_disk", cfg.LocalCachePath != ""),
		zap.Bool("submissions", s.Submissions != nil),
		zap.Duration("debounce", cfg.Debounce()))
	return s, nil
}

// Submitter returns the finalization collaborator: Postgres when a database is configured, logging otherwise.
func (s *Stores) Submitter() wizard.Submitter {
	if s.Submissions != nil {
		return s.Submissions
	}
	return wizard.LogSubmitter{Logger: s.logger}
}

// Drafts returns the source of previously saved form data, or nil without a database.
func (s *Stores) Drafts() func(ctx context.Context, userID string, role domain.Role) (map[string]any, error) {
	if s.Submissions == nil {
		return nil
	}
	return func(ctx context.Context, userID string, role domain.Role) (map[string]any, error) {
		sub, err := s.Submissions.Get(ctx, userID, role)
		if err != nil || sub == nil {
			return nil, err
		}
		return sub.FormData, nil
	}
}

// Close cancels pending remote writes and closes every backend. Safe to call on a partially opened set.
func (s *Stores) Close() {
	if s.Adapter != nil {
		s.Adapter.Close()
	}
	if s.closeLocal != nil {
		if err := s.closeLocal(); err != nil {
			s.logger.Warn("close local cache", zap.Error(err))
		}
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}
