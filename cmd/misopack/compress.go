package main

import (
	"fmt"
	"os"

	"github.com/BadgerOps/misopack/internal/archive"
	"github.com/BadgerOps/misopack/internal/engine"
	"github.com/BadgerOps/misopack/internal/report"
	"github.com/spf13/cobra"
)

var (
	compressCodec  string
	compressSuffix string
	compressDryRun bool
)

func newCompressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress <input_dir> [output_archive]",
		Short: "Pack a MISO output tree into a single archive",
		Long: `Walk input_dir and write every kept directory and file into one archive.

Directories classified as raw output keep only their result files; anything else
found there is excluded and listed in the summary. The archive must not already
exist and is removed again if the run fails part way.

When output_archive is omitted the archive is written next to input_dir, named
after it with the extension of the selected codec.`,
		Example: `  misopack compress run/ run.tar.zst
  misopack compress run/ --compression gzip
  misopack compress run/ --suffix .result --dry-run`,
		Args: cobra.RangeArgs(1, 2),
		RunE: compressRun,
	}

	cmd.Flags().StringVar(&compressCodec, "compression", "", "codec: zstd, xz, lz4, gzip or none (default from config)")
	cmd.Flags().StringVar(&compressSuffix, "suffix", "", "result file suffix (default from config)")
	cmd.Flags().BoolVar(&compressDryRun, "dry-run", false, "classify the tree and report without writing an archive")

	return cmd
}

func compressRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("manager not initialized")
	}

	inputDir := args[0]
	output := ""
	if len(args) > 1 {
		output = args[1]
	} else if !compressDryRun {
		name := compressCodec
		if name == "" {
			name = globalCfg.Archive.Compression
		}
		codec, err := archive.ParseCodec(name)
		if err != nil {
			return err
		}
		output = engine.DefaultOutputPath(inputDir, codec)
		logger.Debug("derived output path", "output", output)
	}

	rep, err := globalManager.Compress(engine.CompressOptions{
		InputDir:     inputDir,
		Output:       output,
		Compression:  compressCodec,
		ResultSuffix: compressSuffix,
		DryRun:       compressDryRun,
	})
	if err != nil {
		return err
	}

	report.WriteCompression(os.Stdout, rep, colorize())
	return nil
}
