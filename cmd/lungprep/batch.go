package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"lungprep/pkg/batch"
	"lungprep/pkg/logger"
	"lungprep/pkg/preprocess"
	"lungprep/pkg/volumeio"
)

// BatchCmd returns the command that preprocesses every subset of the dataset
func BatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Preprocess all subsets of the dataset",
		Long:  "Resample and size-normalize every scan and lung mask of subset0..subsetN and save them as .npy arrays",
		Args:  cobra.NoArgs,
		RunE:  runBatch,
	}

	cmd.Flags().Bool("fail-fast", false, "Stop at the first unreadable scan or mask")
	cmd.Flags().Duration("timeout", 0, "Time limit for one scan and mask pair (0 disables)")

	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.Batch.FailFast, _ = cmd.Flags().GetBool("fail-fast")
	}
	if cmd.Flags().Changed("timeout") {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if timeout < 0 {
			return configError(fmt.Errorf("timeout must not be negative: %s", timeout))
		}
		cfg.Batch.FileTimeout = timeout
	}

	fs := afero.NewOsFs()
	processor := preprocess.NewProcessor(volumeio.NewMetaImageReader(fs), processingParams(cfg))
	driver := batch.NewDriver(fs, processor, volumeio.NewNPYWriter(fs), batch.OptionsFromConfig(cfg), logger.Default())

	logger.Info("starting batch",
		"variant", cfg.Processing.Variant,
		"spacing", cfg.TargetSpacing(),
		"size", cfg.Processing.TargetSize,
		"imageMethod", cfg.Processing.ImageMethod,
		"maskMethod", cfg.Processing.MaskMethod)

	summary, err := driver.Run(cmd.Context())
	if err != nil {
		return fatalError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d files, %d processed, %d shape mismatches, %d read failures, %d other failures, %s written in %s\n",
		summary.RunID, summary.Files, summary.Processed, summary.ShapeMismatches,
		summary.ReadFailures, summary.Failures, humanize.Bytes(uint64(summary.BytesWritten)),
		summary.Duration.Round(time.Millisecond))

	if code := summary.ExitCode(); code != batch.ExitOK {
		return &exitError{code: code}
	}
	return nil
}
