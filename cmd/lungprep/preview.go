package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"lungprep/pkg/preprocess"
	"lungprep/pkg/visualization"
	"lungprep/pkg/volumeio"
)

// PreviewCmd returns the command that renders slices of a processed volume
func PreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <file.mhd>",
		Short: "Process a scan and save JPEG slices of the result",
		Long:  "Process one MetaImage volume in memory and write grayscale JPEG slices along one axis for visual inspection",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}

	cmd.Flags().String("out", "preview", "Directory the slices are written to")
	cmd.Flags().String("axis", "z", "Slicing axis: x, y or z")
	cmd.Flags().Int("step", 1, "Save every step-th slice")
	cmd.Flags().Bool("mask", false, "Treat the volume as a lung mask and binarize it")
	cmd.Flags().Float64Slice("window", nil, "Intensity window as lo,hi (default: value range of the volume)")

	return cmd
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")
	axis, _ := cmd.Flags().GetString("axis")
	step, _ := cmd.Flags().GetInt("step")
	isMask, _ := cmd.Flags().GetBool("mask")
	window, _ := cmd.Flags().GetFloat64Slice("window")

	if window != nil && len(window) != 2 {
		return configError(fmt.Errorf("window needs exactly two values, got %d", len(window)))
	}

	fs := afero.NewOsFs()
	processor := preprocess.NewProcessor(volumeio.NewMetaImageReader(fs), processingParams(cfg))
	result, err := processor.Process(cmd.Context(), args[0], isMask)
	if err != nil {
		return fatalError(err)
	}

	viewer := visualization.NewViewer(fs, result.Volume)
	if window != nil {
		if err := viewer.SetWindow(window[0], window[1]); err != nil {
			return configError(err)
		}
	}

	written, err := viewer.SaveSliceSequence(axis, outDir, step)
	if err != nil {
		return fatalError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d slices of %s along %s saved to %s\n", written, result.Volume.Shape, axis, outDir)
	return nil
}
