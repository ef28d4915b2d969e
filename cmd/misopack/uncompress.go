package main

import (
	"fmt"
	"os"

	"github.com/BadgerOps/misopack/internal/engine"
	"github.com/BadgerOps/misopack/internal/report"
	"github.com/spf13/cobra"
)

func newUncompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncompress <input_archive> <output_dir>",
		Short: "Restore a tree from an archive",
		Long: `Recreate the directory tree stored in input_archive at output_dir.

output_dir must not exist. The codec is detected from the archive contents, so
any archive written by compress can be restored regardless of its name. On
failure everything created under output_dir is removed.`,
		Example: `  misopack uncompress run.tar.zst restored/`,
		Args:    cobra.ExactArgs(2),
		RunE:    uncompressRun,
	}
}

func uncompressRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("manager not initialized")
	}

	rep, err := globalManager.Uncompress(engine.UncompressOptions{
		Archive:   args[0],
		OutputDir: args[1],
	})
	if err != nil {
		return err
	}

	report.WriteUncompression(os.Stdout, rep, colorize())
	return nil
}
