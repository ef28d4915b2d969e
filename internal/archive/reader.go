package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BadgerOps/misopack/internal/report"
	"github.com/BadgerOps/misopack/internal/safety"
)

// Reader restores archives produced by Writer.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a Reader.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

type dirMeta struct {
	path    string
	mode    fs.FileMode
	modTime time.Time
}

// Restore recreates the tree stored in the archive at src under dest. The
// codec is detected from the archive's leading bytes. dest must not exist;
// if any entry cannot be restored, everything Restore created is removed.
func (r *Reader) Restore(src, dest string) (rep *report.UncompressionReport, err error) {
	startTime := time.Now()

	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrReadFailure, src, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, src)
	}
	if safety.SameLocation(src, dest) || safety.SameLocation(filepath.Dir(src), dest) {
		return nil, fmt.Errorf("%w: %s", ErrSameLocation, dest)
	}
	if exists, err := safety.Exists(dest); err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrWriteFailure, dest, err)
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
	}

	cleanupRoot, err := safety.FirstMissingAncestor(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrWriteFailure, dest, err)
	}
	// Cleared when dest appears between the checks above and mkdir, so a
	// tree created by someone else is never removed.
	ownsCleanup := true
	defer func() {
		if err == nil || !ownsCleanup {
			return
		}
		if rmErr := removeTree(cleanupRoot); rmErr != nil {
			r.logger.Error("failed to remove partial restore", "path", cleanupRoot, "error", rmErr)
		} else {
			r.logger.Warn("removed partial restore", "path", cleanupRoot)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating parent of %s: %v", ErrWriteFailure, dest, err)
	}
	if err := mkdir(dest, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			ownsCleanup = false
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
		}
		return nil, fmt.Errorf("%w: creating %s: %v", ErrWriteFailure, dest, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: opening archive: %v", ErrReadFailure, err)
	}
	defer func() {
		_ = f.Close()
	}()

	tr, first, codec, decompressed, err := openArchive(f)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = decompressed.Close()
	}()

	r.logger.Debug("restoring archive", "source", src, "destination", dest, "codec", string(codec))

	rep = &report.UncompressionReport{Archive: src, Destination: dest, Codec: string(codec)}
	var dirs []dirMeta

	for header := first; header != nil; {
		if path.Clean(header.Name) != "." {
			if err := restoreEntry(tr, header, dest, rep, &dirs); err != nil {
				return nil, err
			}
		}
		next, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading tar entry: %v", ErrReadFailure, err)
		}
		header = next
	}

	// Directory modes and times are applied last, deepest first, so that
	// read-only directories do not block their own contents.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return nil, fmt.Errorf("%w: chmod %s: %v", ErrWriteFailure, d.path, err)
		}
		if !d.modTime.IsZero() {
			if err := os.Chtimes(d.path, d.modTime, d.modTime); err != nil {
				return nil, fmt.Errorf("%w: setting times on %s: %v", ErrWriteFailure, d.path, err)
			}
		}
	}

	rep.Duration = time.Since(startTime)
	r.logger.Info("archive restored",
		"source", src,
		"destination", dest,
		"codec", string(codec),
		"directories", rep.Directories,
		"files", rep.FilesRestored,
		"duration", rep.Duration,
	)
	return rep, nil
}

// openArchive positions a tar reader at the first entry of f. An
// uncompressed tar can begin with bytes that look like a codec's magic
// number, so when the detected codec cannot produce a first header the
// file is read again as a plain tar.
func openArchive(f io.ReadSeeker) (*tar.Reader, *tar.Header, Codec, io.Closer, error) {
	br := bufio.NewReader(f)
	codec := detectCodec(br)

	decompressed, err := codec.newReader(br)
	if err == nil {
		tr := tar.NewReader(decompressed)
		first, nextErr := firstHeader(tr)
		if nextErr == nil {
			return tr, first, codec, decompressed, nil
		}
		_ = decompressed.Close()
		err = nextErr
	}
	if codec == CodecNone {
		return nil, nil, codec, nil, fmt.Errorf("%w: reading tar entry: %v", ErrReadFailure, err)
	}

	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
		return nil, nil, codec, nil, fmt.Errorf("%w: rewinding archive: %v", ErrReadFailure, seekErr)
	}
	tr := tar.NewReader(f)
	first, plainErr := firstHeader(tr)
	if plainErr != nil {
		return nil, nil, codec, nil, fmt.Errorf("%w: reading %s archive: %v", ErrReadFailure, codec, err)
	}
	return tr, first, CodecNone, io.NopCloser(nil), nil
}

// firstHeader reads the first entry; an empty archive yields a nil header.
func firstHeader(tr *tar.Reader) (*tar.Header, error) {
	header, err := tr.Next()
	if err == io.EOF {
		return nil, nil
	}
	return header, err
}

// restoreEntry creates the directory or file described by header under dest.
func restoreEntry(tr *tar.Reader, header *tar.Header, dest string, rep *report.UncompressionReport, dirs *[]dirMeta) error {
	target, err := safety.SafeJoinUnder(dest, header.Name)
	if err != nil {
		return fmt.Errorf("%w: unsafe path in archive %q: %v", ErrReadFailure, header.Name, err)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("%w: creating directory %s: %v", ErrWriteFailure, target, err)
		}
		*dirs = append(*dirs, dirMeta{path: target, mode: fs.FileMode(header.Mode).Perm(), modTime: header.ModTime})
		rep.Directories++
	case tar.TypeReg:
		n, err := extractFile(tr, header, target)
		if err != nil {
			return err
		}
		rep.FilesRestored++
		rep.BytesRestored += n
	default:
		return fmt.Errorf("%w: unsupported tar entry type for %s: %c", ErrReadFailure, header.Name, header.Typeflag)
	}
	return nil
}

// mkdir creates the restore destination. Tests replace it to simulate failures.
var mkdir = os.Mkdir

// removeTree removes a partial restore, first making every directory in it
// writable so restored read-only modes do not get in the way.
func removeTree(root string) error {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(root)
}

// extractFile writes one regular entry to target, which must not already exist.
func extractFile(tr *tar.Reader, header *tar.Header, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("%w: creating directory: %v", ErrWriteFailure, err)
	}

	mode := fs.FileMode(header.Mode).Perm() | 0o600
	outFile, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return 0, fmt.Errorf("%w: creating file %s: %v", ErrWriteFailure, target, err)
	}

	src := &sourceReader{r: tr}
	n, err := io.Copy(outFile, src)
	if closeErr := outFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		if src.err != nil {
			return n, fmt.Errorf("%w: reading %s from archive: %v", ErrReadFailure, header.Name, err)
		}
		return n, fmt.Errorf("%w: extracting %s: %v", ErrWriteFailure, header.Name, err)
	}
	if n != header.Size {
		return n, fmt.Errorf("%w: %s: wrote %d of %d bytes", ErrReadFailure, header.Name, n, header.Size)
	}
	if err := os.Chmod(target, fs.FileMode(header.Mode).Perm()); err != nil {
		return n, fmt.Errorf("%w: chmod %s: %v", ErrWriteFailure, target, err)
	}
	if !header.ModTime.IsZero() {
		if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
			return n, fmt.Errorf("%w: setting times on %s: %v", ErrWriteFailure, target, err)
		}
	}
	return n, nil
}
