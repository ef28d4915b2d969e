// Package walk traverses a MISO output tree once, top-down, and yields one
// classified DirectoryRecord per real directory.
package walk

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/BadgerOps/misopack/internal/classify"
	"github.com/BadgerOps/misopack/internal/safety"
)

var (
	// ErrUnreadableDirectory marks a directory that could not be listed.
	ErrUnreadableDirectory = errors.New("unreadable directory")
	// ErrInsideRawOutput marks a subdirectory the walker did not enter
	// because its parent is a raw-output directory.
	ErrInsideRawOutput = errors.New("subdirectory of raw-output directory")
	// ErrAlreadyVisited marks a directory reached a second time through a symlink.
	ErrAlreadyVisited = errors.New("directory already visited")
	// ErrSymlinkInsideRoot marks a symlink to a directory inside the input
	// tree; the real directory is archived under its own path instead.
	ErrSymlinkInsideRoot = errors.New("symlink to a directory inside the input tree")
	// ErrSymlinkNotFollowed marks a symlink ignored because following is disabled.
	ErrSymlinkNotFollowed = errors.New("symlink not followed")
	// ErrBrokenSymlink marks a symlink whose target cannot be resolved.
	ErrBrokenSymlink = errors.New("broken symlink")
	// ErrNotRegular marks a device, FIFO, socket or other special file.
	ErrNotRegular = errors.New("not a regular file")
)

// FileEntry is one regular file directly inside a visited directory.
type FileEntry struct {
	Name     string
	Size     int64
	Mode     fs.FileMode
	ModTime  time.Time
	Included bool
}

// DirectoryRecord is the classification of one visited directory.
type DirectoryRecord struct {
	Path           string // absolute path as reached by the walk
	RelPath        string // slash-separated, relative to the walk root; "." for the root
	Classification classify.Classification
	Mode           fs.FileMode
	ModTime        time.Time
	Files          []FileEntry
}

// Included returns the files that belong in the archive.
func (r DirectoryRecord) Included() []FileEntry {
	var out []FileEntry
	for _, f := range r.Files {
		if f.Included {
			out = append(out, f)
		}
	}
	return out
}

// Excluded returns the files left out by policy.
func (r DirectoryRecord) Excluded() []FileEntry {
	var out []FileEntry
	for _, f := range r.Files {
		if !f.Included {
			out = append(out, f)
		}
	}
	return out
}

// FileRelPath returns the archive-relative path of a file in this directory.
func (r DirectoryRecord) FileRelPath(name string) string {
	return path.Join(r.RelPath, name)
}

// SkippedEntry is a directory, symlink or special file the walk did not archive.
type SkippedEntry struct {
	Path string
	Err  error
}

// Options configures a Walker.
type Options struct {
	// Predicate decides RawOutput vs Structural. Defaults to the suffix rule.
	Predicate classify.Predicate
	// ResultSuffix selects which files of a RawOutput directory are kept.
	ResultSuffix string
	// FollowSymlinks descends through symlinked directories that point
	// outside the input tree and archives the targets of symlinked files.
	// Otherwise symlinks are skipped.
	FollowSymlinks bool
	// OnSkip is called for every entry the walk could not or would not archive.
	OnSkip func(SkippedEntry)
}

// Walker performs the traversal. A Walker may be reused; every call to Walk
// starts from scratch.
type Walker struct {
	opts   Options
	ignore map[string]bool
	logger *slog.Logger
}

// New creates a Walker.
func New(opts Options, logger *slog.Logger) *Walker {
	if opts.ResultSuffix == "" {
		opts.ResultSuffix = classify.DefaultResultSuffix
	}
	if opts.Predicate == nil {
		opts.Predicate = classify.SuffixPredicate(opts.ResultSuffix)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		opts:   opts,
		ignore: make(map[string]bool),
		logger: logger,
	}
}

// Ignore leaves the file at p out of every subsequent walk. It is used to
// keep an archive that is being written inside its own input tree out of it.
func (w *Walker) Ignore(p string) {
	w.ignore[canonicalFile(p)] = true
}

// Walk returns a lazy depth-first sequence of records rooted at root. Each
// record is yielded before its subdirectories are visited.
func (w *Walker) Walk(root string) iter.Seq[DirectoryRecord] {
	return func(yield func(DirectoryRecord) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.skip(root, fmt.Errorf("%w: %v", ErrUnreadableDirectory, err))
			return
		}
		canonicalRoot, err := filepath.EvalSymlinks(abs)
		if err != nil {
			w.skip(abs, fmt.Errorf("%w: %v", ErrUnreadableDirectory, err))
			return
		}
		st := &walkState{root: canonicalRoot, visited: make(map[string]bool)}
		w.visit(st, abs, ".", yield)
	}
}

// walkState is the per-walk bookkeeping shared by every visit.
type walkState struct {
	root    string // canonical walk root
	visited map[string]bool
}

// visit handles one directory and recurses. It returns false once the
// consumer stops the iteration.
func (w *Walker) visit(st *walkState, dir, rel string, yield func(DirectoryRecord) bool) bool {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.skip(dir, fmt.Errorf("%w: %v", ErrUnreadableDirectory, err))
		return true
	}
	if st.visited[canonical] {
		w.skip(dir, fmt.Errorf("%w: %s", ErrAlreadyVisited, canonical))
		return true
	}
	st.visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.skip(dir, fmt.Errorf("%w: %v", ErrUnreadableDirectory, err))
		return true
	}

	var files []FileEntry
	var subdirs []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		info, err := w.entryInfo(st, entry, full)
		if err != nil {
			w.skip(full, err)
			continue
		}
		switch {
		case info.IsDir():
			subdirs = append(subdirs, entry.Name())
		case info.Mode().IsRegular():
			if w.ignore[filepath.Join(canonical, entry.Name())] {
				w.logger.Debug("ignoring path", "path", full)
				continue
			}
			files = append(files, FileEntry{
				Name:    entry.Name(),
				Size:    info.Size(),
				Mode:    info.Mode().Perm(),
				ModTime: info.ModTime(),
			})
		default:
			w.skip(full, fmt.Errorf("%w: %s", ErrNotRegular, info.Mode().Type()))
		}
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	class := classify.Classify(dir, names, w.opts.Predicate)
	for i := range files {
		files[i].Included = class == classify.Structural || classify.IsResultFile(files[i].Name, w.opts.ResultSuffix)
	}

	record := DirectoryRecord{
		Path:           dir,
		RelPath:        rel,
		Classification: class,
		Mode:           0o755,
		Files:          files,
	}
	if info, err := os.Stat(dir); err == nil {
		record.Mode = info.Mode().Perm()
		record.ModTime = info.ModTime()
	}
	if !yield(record) {
		return false
	}

	sort.Strings(subdirs)
	if class == classify.RawOutput {
		for _, name := range subdirs {
			w.skip(filepath.Join(dir, name), ErrInsideRawOutput)
		}
		return true
	}

	for _, name := range subdirs {
		if !w.visit(st, filepath.Join(dir, name), path.Join(rel, name), yield) {
			return false
		}
	}
	return true
}

// entryInfo resolves a directory entry to the FileInfo the walk acts on.
// An error means the entry is skipped and says why.
func (w *Walker) entryInfo(st *walkState, entry fs.DirEntry, full string) (fs.FileInfo, error) {
	if entry.Type()&fs.ModeSymlink == 0 {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableDirectory, err)
		}
		return info, nil
	}
	if !w.opts.FollowSymlinks {
		return nil, ErrSymlinkNotFollowed
	}
	target, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokenSymlink, err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokenSymlink, err)
	}
	// The real directory is, or will be, archived under its own path.
	if info.IsDir() && safety.IsWithin(st.root, target) {
		return nil, fmt.Errorf("%w: %s", ErrSymlinkInsideRoot, target)
	}
	return info, nil
}

func (w *Walker) skip(p string, err error) {
	if errors.Is(err, ErrInsideRawOutput) {
		w.logger.Warn("not descending into subdirectory of raw-output directory", "path", p)
	} else {
		w.logger.Warn("skipping entry", "path", p, "error", err)
	}
	if w.opts.OnSkip != nil {
		w.opts.OnSkip(SkippedEntry{Path: p, Err: err})
	}
}

// canonicalFile resolves symlinks in the parent of p so it can be compared
// with paths built from canonical directories. p itself need not exist.
func canonicalFile(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(parent, filepath.Base(abs))
}
