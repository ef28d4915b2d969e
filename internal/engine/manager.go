// Package engine runs compress and uncompress operations end to end:
// precondition checks, the tree walk, archive I/O and catalog bookkeeping.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/classify"
	"github.com/BadgerOps/misopack/internal/config"
	"github.com/BadgerOps/misopack/internal/store"
)

// Manager orchestrates archive runs against the configured policy.
type Manager struct {
	store  *store.Store
	config *config.Config
	logger *slog.Logger
}

// NewManager creates a new Manager. st may be nil, in which case runs are
// not recorded.
func NewManager(st *store.Store, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		store:  st,
		config: cfg,
		logger: logger,
	}
}

// codec resolves a per-run override against the configured compression.
func (m *Manager) codec(override string) (archive.Codec, error) {
	if override != "" {
		return archive.ParseCodec(override)
	}
	return archive.ParseCodec(m.config.Archive.Compression)
}

// suffix resolves a per-run override against the configured result suffix.
func (m *Manager) suffix(override string) string {
	if override != "" {
		return override
	}
	if m.config.Archive.ResultSuffix != "" {
		return m.config.Archive.ResultSuffix
	}
	return classify.DefaultResultSuffix
}

// predicate builds the raw-output predicate for a run.
func (m *Manager) predicate(suffix string) (classify.Predicate, error) {
	if m.config.Archive.RawDirExpr == "" {
		return classify.SuffixPredicate(suffix), nil
	}
	pred, err := classify.ExprPredicate(m.config.Archive.RawDirExpr, suffix)
	if err != nil {
		return nil, fmt.Errorf("archive.raw_dir_expr: %w", err)
	}
	return pred, nil
}

// beginRun records a running entry in the catalog. Catalog errors are
// logged and never fail the run.
func (m *Manager) beginRun(direction, source, dest, codec string, dryRun bool) *store.Run {
	if m.store == nil {
		return nil
	}
	run := &store.Run{
		Direction:   direction,
		Source:      source,
		Destination: dest,
		Codec:       codec,
		DryRun:      dryRun,
		Status:      store.StatusRunning,
		StartTime:   time.Now(),
	}
	if err := m.store.CreateRun(run); err != nil {
		m.logger.Warn("failed to record run in catalog", "error", err)
		return nil
	}
	return run
}

// finishRun stores the outcome of a run started with beginRun.
func (m *Manager) finishRun(run *store.Run, runErr error) {
	if run == nil {
		return
	}
	run.EndTime = time.Now()
	if runErr != nil {
		run.Status = store.StatusFailed
		run.ErrorMessage = runErr.Error()
	} else {
		run.Status = store.StatusCompleted
	}
	if err := m.store.UpdateRun(run); err != nil {
		m.logger.Warn("failed to update run in catalog", "id", run.ID, "error", err)
	}
}
