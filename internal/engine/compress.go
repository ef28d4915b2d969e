package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/report"
	"github.com/BadgerOps/misopack/internal/safety"
	"github.com/BadgerOps/misopack/internal/store"
	"github.com/BadgerOps/misopack/internal/walk"
)

// CompressOptions configures a compress run.
type CompressOptions struct {
	InputDir     string
	Output       string
	Compression  string // overrides archive.compression when set
	ResultSuffix string // overrides archive.result_suffix when set
	DryRun       bool   // walk and classify without writing an archive
}

// Compress packs InputDir into a single archive at Output. All
// preconditions are checked before any file is created.
func (m *Manager) Compress(opts CompressOptions) (rep *report.CompressionReport, err error) {
	startTime := time.Now()

	codec, err := m.codec(opts.Compression)
	if err != nil {
		return nil, err
	}
	suffix := m.suffix(opts.ResultSuffix)
	pred, err := m.predicate(suffix)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(opts.InputDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotADirectory, opts.InputDir)
	}
	if !opts.DryRun {
		if safety.SameLocation(opts.InputDir, opts.Output) {
			return nil, fmt.Errorf("%w: %s", archive.ErrSameLocation, opts.Output)
		}
		exists, err := safety.Exists(opts.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", archive.ErrWriteFailure, opts.Output, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s; delete it if you want compression to run", archive.ErrAlreadyExists, opts.Output)
		}
	}

	m.logger.Info("compress starting",
		"input", opts.InputDir,
		"output", opts.Output,
		"codec", string(codec),
		"suffix", suffix,
		"dry_run", opts.DryRun,
	)

	run := m.beginRun(store.DirectionCompress, opts.InputDir, opts.Output, string(codec), opts.DryRun)
	defer func() { m.finishCompressRun(run, rep, err) }()

	var skipped []walk.SkippedEntry
	walker := walk.New(walk.Options{
		Predicate:      pred,
		ResultSuffix:   suffix,
		FollowSymlinks: m.config.Archive.FollowSymlinks,
		OnSkip:         func(s walk.SkippedEntry) { skipped = append(skipped, s) },
	}, m.logger)

	if opts.DryRun {
		rep = classifyOnly(walker, opts.InputDir)
		rep.Codec = string(codec)
	} else {
		walker.Ignore(opts.Output)
		rep, err = archive.NewWriter(codec, m.logger).Write(walker.Walk(opts.InputDir), opts.Output)
		if err != nil {
			return nil, fmt.Errorf("compressing %s: %w", opts.InputDir, err)
		}
	}

	rep.Source = opts.InputDir
	rep.DryRun = opts.DryRun
	for _, s := range skipped {
		rep.AddSkipped(s)
	}
	rep.Duration = time.Since(startTime)

	m.logger.Info("compress completed",
		"raw_output_dirs", rep.RawOutputDirs,
		"files_included", rep.FilesIncluded(),
		"files_excluded", rep.FilesExcluded(),
		"dirs_skipped", len(rep.Skipped),
		"duration", rep.Duration,
	)
	return rep, nil
}

// classifyOnly walks the tree and builds the report a real run would
// produce, without reading file contents.
func classifyOnly(walker *walk.Walker, root string) *report.CompressionReport {
	rep := &report.CompressionReport{}
	for rec := range walker.Walk(root) {
		rep.AddDirectory(rec)
		for _, f := range rec.Included() {
			rep.AddFile(rec.Classification, f.Size)
		}
	}
	return rep
}

func (m *Manager) finishCompressRun(run *store.Run, rep *report.CompressionReport, runErr error) {
	if run == nil {
		return
	}
	if rep != nil {
		run.RawOutputDirs = rep.RawOutputDirs
		run.FilesIncluded = rep.FilesIncluded()
		run.FilesExcluded = rep.FilesExcluded()
		run.DirsSkipped = len(rep.Skipped)
		run.TotalSize = rep.BytesIncluded
		run.ArchiveSHA256 = rep.ArchiveSHA256
		if err := m.store.AddExclusions(run.ID, rep.Excluded); err != nil {
			m.logger.Warn("failed to record exclusions in catalog", "id", run.ID, "error", err)
		}
	}
	m.finishRun(run, runErr)
}

// DefaultOutputPath derives an archive name next to inputDir, such as
// "run.tar.zst" for "run/".
func DefaultOutputPath(inputDir string, codec archive.Codec) string {
	clean := filepath.Clean(inputDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+codec.Extension())
}
