package engine

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/config"
	"github.com/BadgerOps/misopack/internal/store"
)

// setupEngineTest creates the scenario tree, an in-memory catalog and a Manager.
func setupEngineTest(t *testing.T) (*Manager, *store.Store, string) {
	t.Helper()

	work := t.TempDir()
	files := map[string]string{
		"run/geneA/output.result": "psi=0.42\n",
		"run/geneA/readme.txt":    "stray",
		"run/logs/run.log":        "started\n",
	}
	for relPath, content := range files {
		absPath := filepath.Join(work, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Archive.ResultSuffix = ".result"

	return NewManager(st, cfg, logger), st, work
}

func TestCompressUncompressScenario(t *testing.T) {
	mgr, st, work := setupEngineTest(t)
	input := filepath.Join(work, "run")
	output := filepath.Join(work, "out.archive")

	rep, err := mgr.Compress(CompressOptions{InputDir: input, Output: output})
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if rep.FilesExcluded() != 1 {
		t.Errorf("expected 1 excluded file, got %d", rep.FilesExcluded())
	}
	if rep.FilesIncluded() != 2 {
		t.Errorf("expected 2 included files, got %d", rep.FilesIncluded())
	}
	if rep.Codec != "zstd" {
		t.Errorf("codec = %s, want zstd", rep.Codec)
	}

	restored := filepath.Join(work, "restored")
	urep, err := mgr.Uncompress(UncompressOptions{Archive: output, OutputDir: restored})
	if err != nil {
		t.Fatalf("Uncompress() error: %v", err)
	}
	if urep.FilesRestored != 2 {
		t.Errorf("restored %d files, want 2", urep.FilesRestored)
	}

	for rel, want := range map[string]string{
		"geneA/output.result": "psi=0.42\n",
		"logs/run.log":        "started\n",
	} {
		got, err := os.ReadFile(filepath.Join(restored, rel))
		if err != nil {
			t.Fatalf("reading %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(restored, "geneA", "readme.txt")); !os.IsNotExist(err) {
		t.Error("excluded file was restored")
	}

	if _, err := mgr.Uncompress(UncompressOptions{Archive: output, OutputDir: restored}); !errors.Is(err, archive.ErrAlreadyExists) {
		t.Errorf("second uncompress error = %v, want ErrAlreadyExists", err)
	}

	runs, err := st.ListRuns("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 catalog runs, got %d", len(runs))
	}
	compressRuns, err := st.ListRuns(store.DirectionCompress, 0)
	if err != nil {
		t.Fatal(err)
	}
	cr := compressRuns[0]
	if cr.Status != store.StatusCompleted || cr.FilesExcluded != 1 || cr.ArchiveSHA256 != rep.ArchiveSHA256 {
		t.Errorf("compress run = %+v", cr)
	}
	exclusions, err := st.ListExclusions(cr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(exclusions) != 1 || exclusions[0].Path != "geneA/readme.txt" {
		t.Errorf("exclusions = %+v", exclusions)
	}

	failed := 0
	for _, r := range runs {
		if r.Status == store.StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected the refused uncompress to be recorded as failed, got %d failed runs", failed)
	}
}

func TestCompressPreconditions(t *testing.T) {
	mgr, st, work := setupEngineTest(t)
	input := filepath.Join(work, "run")

	notDir := filepath.Join(work, "run", "logs", "run.log")
	if _, err := mgr.Compress(CompressOptions{InputDir: notDir, Output: filepath.Join(work, "a")}); !errors.Is(err, archive.ErrNotADirectory) {
		t.Errorf("file input: got %v, want ErrNotADirectory", err)
	}
	if _, err := mgr.Compress(CompressOptions{InputDir: filepath.Join(work, "missing"), Output: filepath.Join(work, "a")}); !errors.Is(err, archive.ErrNotADirectory) {
		t.Errorf("missing input: got %v, want ErrNotADirectory", err)
	}
	if _, err := mgr.Compress(CompressOptions{InputDir: input, Output: input + "/"}); !errors.Is(err, archive.ErrSameLocation) {
		t.Errorf("same location: got %v, want ErrSameLocation", err)
	}

	existing := filepath.Join(work, "existing.tar.zst")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Compress(CompressOptions{InputDir: input, Output: existing}); !errors.Is(err, archive.ErrAlreadyExists) {
		t.Errorf("existing output: got %v, want ErrAlreadyExists", err)
	}
	if data, _ := os.ReadFile(existing); string(data) != "old" {
		t.Error("existing output was modified")
	}

	if _, err := mgr.Compress(CompressOptions{InputDir: input, Output: filepath.Join(work, "b"), Compression: "rar"}); err == nil {
		t.Error("expected unknown codec to fail")
	}
	if _, err := os.Stat(filepath.Join(work, "b")); !os.IsNotExist(err) {
		t.Error("archive created despite invalid codec")
	}

	runs, err := st.ListRuns("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("precondition failures should not be recorded, got %d runs", len(runs))
	}
}

func TestCompressArchiveInsideInput(t *testing.T) {
	mgr, _, work := setupEngineTest(t)
	input := filepath.Join(work, "run")
	output := filepath.Join(input, "logs", "self.tar")

	rep, err := mgr.Compress(CompressOptions{InputDir: input, Output: output, Compression: "none"})
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if rep.FilesIncluded() != 2 {
		t.Errorf("archive included itself: %d files", rep.FilesIncluded())
	}
}

func TestCompressSymlinkIntoTreeKeepsRealDirectory(t *testing.T) {
	mgr, st, work := setupEngineTest(t)
	input := filepath.Join(work, "linked")
	if err := os.MkdirAll(filepath.Join(input, "real", "geneA"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "real", "geneA", "x.result"), []byte("psi=0.9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(input, "real"), filepath.Join(input, "0alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	output := filepath.Join(work, "linked.tar.zst")
	rep, err := mgr.Compress(CompressOptions{InputDir: input, Output: output})
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Path != filepath.Join(input, "0alias") {
		t.Errorf("skipped = %+v, want the 0alias link", rep.Skipped)
	}

	restored := filepath.Join(work, "linked-restored")
	if _, err := mgr.Uncompress(UncompressOptions{Archive: output, OutputDir: restored}); err != nil {
		t.Fatalf("Uncompress() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(restored, "real", "geneA", "x.result"))
	if err != nil || string(data) != "psi=0.9\n" {
		t.Fatalf("real/geneA/x.result after round trip: %q, %v", data, err)
	}
	if _, err := os.Lstat(filepath.Join(restored, "0alias")); !os.IsNotExist(err) {
		t.Errorf("0alias should not be restored, stat err = %v", err)
	}

	runs, err := st.ListRuns(store.DirectionCompress, 1)
	if err != nil || len(runs) != 1 || runs[0].DirsSkipped != 1 {
		t.Errorf("catalog run = %+v, %v; want 1 skipped entry", runs, err)
	}
}

func TestCompressDryRun(t *testing.T) {
	mgr, st, work := setupEngineTest(t)
	output := filepath.Join(work, "dry.tar.zst")

	rep, err := mgr.Compress(CompressOptions{InputDir: filepath.Join(work, "run"), Output: output, DryRun: true})
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !rep.DryRun || rep.FilesIncluded() != 2 || rep.FilesExcluded() != 1 || rep.RawOutputDirs != 1 {
		t.Errorf("dry run report = %+v", rep)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("dry run created an archive")
	}

	runs, err := st.ListRuns(store.DirectionCompress, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || !runs[0].DryRun {
		t.Errorf("expected one dry-run catalog entry, got %+v", runs)
	}
}

func TestCompressWithExpressionPredicate(t *testing.T) {
	mgr, _, work := setupEngineTest(t)
	// No directory matches, so every file passes through as structural.
	mgr.config.Archive.RawDirExpr = `dir endsWith "/nothing"`

	rep, err := mgr.Compress(CompressOptions{InputDir: filepath.Join(work, "run"), DryRun: true})
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if rep.RawOutputDirs != 0 || rep.FilesExcluded() != 0 || rep.FilesIncluded() != 3 {
		t.Errorf("report = %+v", rep)
	}
}

func TestManagerWithoutCatalog(t *testing.T) {
	_, _, work := setupEngineTest(t)
	cfg := config.DefaultConfig()
	cfg.Archive.ResultSuffix = ".result"
	mgr := NewManager(nil, cfg, nil)

	output := filepath.Join(work, "nocat.tar.lz4")
	if _, err := mgr.Compress(CompressOptions{InputDir: filepath.Join(work, "run"), Output: output, Compression: "lz4"}); err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	rep, err := mgr.Uncompress(UncompressOptions{Archive: output, OutputDir: filepath.Join(work, "nocat")})
	if err != nil {
		t.Fatalf("Uncompress() error: %v", err)
	}
	if rep.Codec != "lz4" {
		t.Errorf("codec = %s, want lz4", rep.Codec)
	}
}

func TestUncompressMissingArchive(t *testing.T) {
	mgr, _, work := setupEngineTest(t)
	_, err := mgr.Uncompress(UncompressOptions{Archive: filepath.Join(work, "nope.tar"), OutputDir: filepath.Join(work, "x")})
	if !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		input string
		codec archive.Codec
		want  string
	}{
		{"/data/run", archive.CodecZstd, "/data/run.tar.zst"},
		{"/data/run/", archive.CodecXZ, "/data/run.tar.xz"},
		{"run", archive.CodecNone, "run.tar"},
	}
	for _, tt := range tests {
		if got := DefaultOutputPath(tt.input, tt.codec); got != tt.want {
			t.Errorf("DefaultOutputPath(%q, %s) = %q, want %q", tt.input, tt.codec, got, tt.want)
		}
	}
}
