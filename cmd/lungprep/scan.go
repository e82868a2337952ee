package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"lungprep/pkg/batch"
	"lungprep/pkg/logger"
	"lungprep/pkg/normalize"
	"lungprep/pkg/preprocess"
	"lungprep/pkg/volumeio"
)

// ScanCmd returns the command that preprocesses a single scan or mask
func ScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <file.mhd>",
		Short: "Preprocess a single scan or lung mask",
		Long:  "Resample and size-normalize one MetaImage volume and save it as a .npy array",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	cmd.Flags().Bool("mask", false, "Treat the volume as a lung mask and binarize it")
	cmd.Flags().String("out", "", "Output path without extension (default: input name in the working directory)")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	isMask, _ := cmd.Flags().GetBool("mask")
	out, _ := cmd.Flags().GetString("out")

	input := args[0]
	if out == "" {
		out = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	out = strings.TrimSuffix(out, volumeio.NPYExt)

	fs := afero.NewOsFs()
	processor := preprocess.NewProcessor(volumeio.NewMetaImageReader(fs), processingParams(cfg))
	result, err := processor.Process(cmd.Context(), input, isMask)
	if err != nil {
		return fatalError(err)
	}

	path, n, err := volumeio.NewNPYWriter(fs).Write(out, result.Volume)
	if err != nil {
		return fatalError(err)
	}

	stats := result.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: shape %s -> %s, spacing %s -> %s, range [%g, %g], mean %.2f, %s written to %s\n",
		input, result.OriginalShape, result.Volume.Shape, result.Spacing, result.AchievedSpacing,
		stats.Min, stats.Max, stats.Mean, humanize.Bytes(uint64(n)), path)

	if size := cfg.Processing.TargetSize; !normalize.Conforms(result.Volume, size) {
		logger.Warn("output does not match the target size", "shape", result.Volume.Shape, "size", size)
		return &exitError{code: batch.ExitPartial}
	}
	return nil
}
