package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorEnabled reports whether w is a terminal that should get colored output.
func ColorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	warn *color.Color
	ok   *color.Color
}

func newPalette(colorize bool) palette {
	p := palette{
		warn: color.New(color.FgYellow),
		ok:   color.New(color.FgGreen),
	}
	if colorize {
		p.warn.EnableColor()
		p.ok.EnableColor()
	} else {
		p.warn.DisableColor()
		p.ok.DisableColor()
	}
	return p
}

// WriteCompression prints the human-readable summary of a compress run.
func WriteCompression(w io.Writer, r *CompressionReport, colorize bool) {
	p := newPalette(colorize)

	if len(r.Excluded) > 0 {
		p.warn.Fprintf(w, "WARNING: found non-result files in raw-output directories; excluded:\n")
		for _, rel := range r.Excluded {
			fmt.Fprintf(w, "  - %s\n", rel)
		}
	}
	if len(r.Skipped) > 0 {
		p.warn.Fprintf(w, "WARNING: skipped entries (not in the archive):\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "  - %s (%s)\n", s.Path, s.Reason)
		}
	}

	if r.DryRun {
		p.ok.Fprintf(w, "Dry run of %s complete:\n", r.Source)
	} else {
		p.ok.Fprintf(w, "Compressed %s into %s:\n", r.Source, r.Archive)
	}
	fmt.Fprintf(w, "  Raw output directories: %d\n", r.RawOutputDirs)
	fmt.Fprintf(w, "  Structural directories: %d\n", r.StructuralDirs)
	fmt.Fprintf(w, "  Result files included: %d\n", r.ResultFiles)
	fmt.Fprintf(w, "  Other files included: %d\n", r.OtherFiles)
	fmt.Fprintf(w, "  Files excluded: %d\n", r.FilesExcluded())
	fmt.Fprintf(w, "  Entries skipped: %d\n", len(r.Skipped))
	fmt.Fprintf(w, "  Input size: %s\n", humanize.IBytes(uint64(r.BytesIncluded)))
	if !r.DryRun {
		fmt.Fprintf(w, "  Archive size: %s (%s)\n", humanize.IBytes(uint64(r.ArchiveSize)), r.Codec)
		fmt.Fprintf(w, "  SHA256: %s\n", r.ArchiveSHA256)
	}
	fmt.Fprintf(w, "  Duration: %s\n", r.Duration.Round(time.Millisecond))
}

// WriteUncompression prints the human-readable summary of an uncompress run.
func WriteUncompression(w io.Writer, r *UncompressionReport, colorize bool) {
	p := newPalette(colorize)
	p.ok.Fprintf(w, "Restored %s into %s:\n", r.Archive, r.Destination)
	fmt.Fprintf(w, "  Codec: %s\n", r.Codec)
	fmt.Fprintf(w, "  Directories: %d\n", r.Directories)
	fmt.Fprintf(w, "  Files: %d\n", r.FilesRestored)
	fmt.Fprintf(w, "  Size: %s\n", humanize.IBytes(uint64(r.BytesRestored)))
	fmt.Fprintf(w, "  Duration: %s\n", r.Duration.Round(time.Millisecond))
}
