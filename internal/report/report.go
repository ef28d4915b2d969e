// Package report aggregates the counts of a compress or uncompress run and
// renders the end-of-run summary.
package report

import (
	"time"

	"github.com/BadgerOps/misopack/internal/classify"
	"github.com/BadgerOps/misopack/internal/walk"
)

// Skipped is a directory, symlink or special file left out of the archive,
// with the reason.
type Skipped struct {
	Path   string
	Reason string
}

// CompressionReport summarizes a compress run.
type CompressionReport struct {
	Source         string
	Archive        string
	Codec          string
	DryRun         bool
	RawOutputDirs  int
	StructuralDirs int
	ResultFiles    int // included files from raw-output directories
	OtherFiles     int // included files from structural directories
	BytesIncluded  int64
	Excluded       []string // relative paths left out by policy
	Skipped        []Skipped
	ArchiveSize    int64
	ArchiveSHA256  string
	Duration       time.Duration
}

// FilesIncluded is the number of files written to the archive.
func (r *CompressionReport) FilesIncluded() int {
	return r.ResultFiles + r.OtherFiles
}

// FilesExcluded is the number of files left out by policy.
func (r *CompressionReport) FilesExcluded() int {
	return len(r.Excluded)
}

// AddDirectory counts a directory record and its excluded files.
func (r *CompressionReport) AddDirectory(rec walk.DirectoryRecord) {
	if rec.Classification == classify.RawOutput {
		r.RawOutputDirs++
	} else {
		r.StructuralDirs++
	}
	for _, f := range rec.Excluded() {
		r.Excluded = append(r.Excluded, rec.FileRelPath(f.Name))
	}
}

// AddFile counts one included file.
func (r *CompressionReport) AddFile(class classify.Classification, size int64) {
	if class == classify.RawOutput {
		r.ResultFiles++
	} else {
		r.OtherFiles++
	}
	r.BytesIncluded += size
}

// AddSkipped records an entry the walk did not archive.
func (r *CompressionReport) AddSkipped(s walk.SkippedEntry) {
	reason := ""
	if s.Err != nil {
		reason = s.Err.Error()
	}
	r.Skipped = append(r.Skipped, Skipped{Path: s.Path, Reason: reason})
}

// UncompressionReport summarizes an uncompress run.
type UncompressionReport struct {
	Archive       string
	Destination   string
	Codec         string
	Directories   int
	FilesRestored int
	BytesRestored int64
	Duration      time.Duration
}
