package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/misopack/internal/report"
	"github.com/BadgerOps/misopack/internal/walk"
)

// Writer streams directory records into a single archive file.
type Writer struct {
	codec  Codec
	logger *slog.Logger
}

// NewWriter creates a Writer using codec around the tar stream.
func NewWriter(codec Codec, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{codec: codec, logger: logger}
}

// Write creates dest and fills it from records. Every non-root record becomes
// a directory entry and every included file a regular entry under its path
// relative to the walk root. dest must not exist. On failure dest is removed.
func (w *Writer) Write(records iter.Seq[walk.DirectoryRecord], dest string) (rep *report.CompressionReport, err error) {
	startTime := time.Now()

	if err := w.codec.validate(); err != nil {
		return nil, err
	}

	archiveFile, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
		}
		return nil, fmt.Errorf("%w: creating archive %s: %v", ErrWriteFailure, dest, err)
	}
	var compressor io.WriteCloser
	defer func() {
		if err == nil {
			return
		}
		if compressor != nil {
			_ = compressor.Close()
		}
		_ = archiveFile.Close()
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			w.logger.Error("failed to remove partial archive", "path", dest, "error", rmErr)
		}
	}()

	compressor, err = w.codec.newWriter(archiveFile)
	if err != nil {
		return nil, err
	}
	tarWriter := tar.NewWriter(compressor)

	rep = &report.CompressionReport{Archive: dest, Codec: string(w.codec)}

	for rec := range records {
		rep.AddDirectory(rec)

		if rec.RelPath != "." {
			header := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     rec.RelPath + "/",
				Mode:     int64(rec.Mode.Perm()),
				ModTime:  rec.ModTime,
			}
			if err := tarWriter.WriteHeader(header); err != nil {
				return nil, fmt.Errorf("%w: adding directory %s: %v", ErrWriteFailure, rec.RelPath, err)
			}
		}

		for _, f := range rec.Files {
			rel := rec.FileRelPath(f.Name)
			if !f.Included {
				w.logger.Warn("excluding non-result file from raw-output directory", "path", rel)
				continue
			}
			n, err := addFileToTar(tarWriter, filepath.Join(rec.Path, f.Name), rel)
			if err != nil {
				return nil, err
			}
			rep.AddFile(rec.Classification, n)
		}
		w.logger.Debug("archived directory",
			"path", rec.RelPath,
			"class", rec.Classification.String(),
			"files", len(rec.Files),
		)
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing tar writer: %v", ErrWriteFailure, err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing %s writer: %v", ErrWriteFailure, w.codec, err)
	}
	if err := archiveFile.Sync(); err != nil {
		return nil, fmt.Errorf("%w: syncing archive: %v", ErrWriteFailure, err)
	}
	if err := archiveFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing archive file: %v", ErrWriteFailure, err)
	}

	hash, size, err := hashFile(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing archive: %v", ErrReadFailure, err)
	}
	rep.ArchiveSHA256 = hash
	rep.ArchiveSize = size
	rep.Duration = time.Since(startTime)

	w.logger.Info("archive written",
		"path", dest,
		"codec", string(w.codec),
		"files", rep.FilesIncluded(),
		"excluded", rep.FilesExcluded(),
		"size", size,
		"duration", rep.Duration,
	)
	return rep, nil
}

// sourceReader remembers the first read error so a failed copy can be
// blamed on the source rather than the archive.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// addFileToTar adds a single file to a tar archive and returns its size.
func addFileToTar(tw *tar.Writer, srcPath, tarPath string) (int64, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("%w: opening %s: %v", ErrReadFailure, srcPath, err)
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrReadFailure, srcPath, err)
	}

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     tarPath,
		Size:     stat.Size(),
		Mode:     int64(stat.Mode().Perm()),
		ModTime:  stat.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return 0, fmt.Errorf("%w: adding %s: %v", ErrWriteFailure, tarPath, err)
	}

	src := &sourceReader{r: f}
	n, err := io.CopyN(tw, src, stat.Size())
	if err != nil {
		if src.err != nil || errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: reading %s: %v", ErrReadFailure, srcPath, err)
		}
		return n, fmt.Errorf("%w: adding %s: %v", ErrWriteFailure, tarPath, err)
	}
	return n, nil
}

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
