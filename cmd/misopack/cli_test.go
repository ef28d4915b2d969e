package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/config"
	"github.com/BadgerOps/misopack/internal/engine"
	"github.com/BadgerOps/misopack/internal/store"
)

// setupCLITest swaps the global components for test doubles and returns a
// work directory holding a small MISO tree under "run".
func setupCLITest(t *testing.T, st *store.Store) string {
	t.Helper()

	origCfg, origStore, origManager, origLogger := globalCfg, globalStore, globalManager, logger
	origCodec, origSuffix, origDryRun := compressCodec, compressSuffix, compressDryRun
	origDirection, origLimit, origExcluded := historyDirection, historyLimit, historyExcluded
	t.Cleanup(func() {
		globalCfg, globalStore, globalManager, logger = origCfg, origStore, origManager, origLogger
		compressCodec, compressSuffix, compressDryRun = origCodec, origSuffix, origDryRun
		historyDirection, historyLimit, historyExcluded = origDirection, origLimit, origExcluded
	})

	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	globalCfg = config.DefaultConfig()
	globalCfg.Archive.ResultSuffix = ".result"
	globalStore = st
	globalManager = engine.NewManager(st, globalCfg, logger)
	compressCodec, compressSuffix, compressDryRun = "", "", false
	historyDirection, historyLimit, historyExcluded = "", 20, 0

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
	return work
}

func TestCompressAndUncompressRun(t *testing.T) {
	st := newTestStore(t)
	work := setupCLITest(t, st)

	archivePath := filepath.Join(work, "run.tar.zst")
	out := captureStdout(t, func() {
		if err := compressRun(nil, []string{filepath.Join(work, "run"), archivePath}); err != nil {
			t.Fatalf("compressRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "geneA/readme.txt") {
		t.Fatalf("expected excluded file in summary, got: %s", out)
	}
	if !strings.Contains(out, "Files excluded: 1") {
		t.Fatalf("expected exclusion count in summary, got: %s", out)
	}

	restored := filepath.Join(work, "restored")
	out = captureStdout(t, func() {
		if err := uncompressRun(nil, []string{archivePath, restored}); err != nil {
			t.Fatalf("uncompressRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Files: 2") {
		t.Fatalf("expected restored file count, got: %s", out)
	}
	if _, err := os.Stat(filepath.Join(restored, "geneA", "output.result")); err != nil {
		t.Fatalf("result file not restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(restored, "geneA", "readme.txt")); !os.IsNotExist(err) {
		t.Fatalf("excluded file should not be restored, stat err = %v", err)
	}

	err := uncompressRun(nil, []string{archivePath, restored})
	if !errors.Is(err, archive.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on second restore, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("expected exit code 2 for refused precondition, got %d", exitCode(err))
	}
}

func TestCompressRunDefaultOutput(t *testing.T) {
	work := setupCLITest(t, nil)
	compressCodec = "gzip"

	input := filepath.Join(work, "run")
	captureStdout(t, func() {
		if err := compressRun(nil, []string{input}); err != nil {
			t.Fatalf("compressRun returned error: %v", err)
		}
	})

	if _, err := os.Stat(filepath.Join(work, "run.tar.gz")); err != nil {
		t.Fatalf("expected archive at derived path: %v", err)
	}
}

func TestCompressRunDryRun(t *testing.T) {
	work := setupCLITest(t, nil)
	compressDryRun = true

	out := captureStdout(t, func() {
		if err := compressRun(nil, []string{filepath.Join(work, "run")}); err != nil {
			t.Fatalf("compressRun returned error: %v", err)
		}
	})

	if !strings.Contains(out, "Dry run") {
		t.Fatalf("expected dry run summary, got: %s", out)
	}
	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dry run should not write an archive, found %d entries", len(entries))
	}
}

func TestCompressRunRejectsExistingOutput(t *testing.T) {
	work := setupCLITest(t, nil)

	archivePath := filepath.Join(work, "taken.tar.zst")
	if err := os.WriteFile(archivePath, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := compressRun(nil, []string{filepath.Join(work, "run"), archivePath})
	if !errors.Is(err, archive.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	data, _ := os.ReadFile(archivePath)
	if string(data) != "keep" {
		t.Fatalf("existing file was modified: %q", data)
	}
}

func TestHistoryRun(t *testing.T) {
	st := newTestStore(t)
	work := setupCLITest(t, st)

	archivePath := filepath.Join(work, "run.tar.xz")
	captureStdout(t, func() {
		if err := compressRun(nil, []string{filepath.Join(work, "run"), archivePath}); err != nil {
			t.Fatalf("compressRun returned error: %v", err)
		}
		if err := uncompressRun(nil, []string{archivePath, filepath.Join(work, "restored")}); err != nil {
			t.Fatalf("uncompressRun returned error: %v", err)
		}
	})

	out := captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "compress") || !strings.Contains(out, "uncompress") {
		t.Fatalf("expected both directions in history, got: %s", out)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("expected completed status in history, got: %s", out)
	}

	historyDirection = store.DirectionUncompress
	out = captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "run.tar.xz") || strings.Count(out, "uncompress") != 1 {
		t.Fatalf("expected only the uncompress run, got: %s", out)
	}

	runs, err := st.ListRuns(store.DirectionCompress, 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns: %v, %d runs", err, len(runs))
	}
	historyDirection = ""
	historyExcluded = runs[0].ID
	out = captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, fmt.Sprintf("Run %d", runs[0].ID)) || !strings.Contains(out, "geneA/readme.txt") {
		t.Fatalf("expected exclusion listing, got: %s", out)
	}
}

func TestHistoryRunInvalidDirection(t *testing.T) {
	setupCLITest(t, newTestStore(t))
	historyDirection = "sideways"

	if err := historyRun(nil, nil); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestHistoryRunWithoutCatalog(t *testing.T) {
	setupCLITest(t, nil)

	if err := historyRun(nil, nil); err == nil {
		t.Fatal("expected error when the catalog is unavailable")
	}
}

func TestConfigInitRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "misopack.yaml")

	captureStdout(t, func() {
		if err := configInitRun(nil, []string{path}); err != nil {
			t.Fatalf("configInitRun returned error: %v", err)
		}
	})

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Archive.Compression != "zstd" {
		t.Fatalf("expected default compression, got %q", cfg.Archive.Compression)
	}

	if err := configInitRun(nil, []string{path}); err == nil {
		t.Fatal("expected error when the config file already exists")
	}
}

func TestConfigShowRun(t *testing.T) {
	setupCLITest(t, nil)

	out := captureStdout(t, func() {
		if err := configShowRun(nil, nil); err != nil {
			t.Fatalf("configShowRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "result_suffix: .result") {
		t.Fatalf("expected result suffix in output, got: %s", out)
	}
}

func TestRootWithoutSubcommand(t *testing.T) {
	origCfgPath, origLevel, origFormat := cfgPath, logLevel, logFormat
	origCfg, origLogger := globalCfg, logger
	t.Cleanup(func() {
		cfgPath, logLevel, logFormat = origCfgPath, origLevel, origFormat
		globalCfg, logger = origCfg, origLogger
		if origLogger != nil {
			slog.SetDefault(origLogger)
		}
	})

	cfgFile := filepath.Join(t.TempDir(), "misopack.yaml")
	if err := config.WriteDefault(cfgFile); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", cfgFile, "--log-level", "error"})

	err := cmd.Execute()
	if !errors.Is(err, errNoCommand) {
		t.Fatalf("expected errNoCommand, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", archive.ErrNotADirectory), 2},
		{fmt.Errorf("wrap: %w", archive.ErrSameLocation), 2},
		{archive.ErrNotFound, 2},
		{fmt.Errorf("wrap: %w", archive.ErrWriteFailure), 1},
		{errors.New("other"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	_ = r.Close()
	return string(data)
}
