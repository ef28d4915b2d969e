package engine

import (
	"fmt"
	"time"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/report"
	"github.com/BadgerOps/misopack/internal/store"
)

// UncompressOptions configures an uncompress run.
type UncompressOptions struct {
	Archive   string
	OutputDir string
}

// Uncompress restores Archive into OutputDir, which must not exist.
func (m *Manager) Uncompress(opts UncompressOptions) (rep *report.UncompressionReport, err error) {
	m.logger.Info("uncompress starting", "archive", opts.Archive, "output", opts.OutputDir)

	run := m.beginRun(store.DirectionUncompress, opts.Archive, opts.OutputDir, "", false)
	defer func() {
		if run != nil && rep != nil {
			run.Codec = rep.Codec
			run.FilesIncluded = rep.FilesRestored
			run.TotalSize = rep.BytesRestored
		}
		m.finishRun(run, err)
	}()

	startTime := time.Now()
	rep, err = archive.NewReader(m.logger).Restore(opts.Archive, opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("uncompressing %s: %w", opts.Archive, err)
	}
	rep.Duration = time.Since(startTime)
	return rep, nil
}
