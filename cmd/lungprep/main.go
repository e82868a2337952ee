package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"lungprep/pkg/batch"
	"lungprep/pkg/config"
	"lungprep/pkg/logger"
	"lungprep/pkg/preprocess"
)

// exitError carries the process exit code of a failed command. A nil err
// means the outcome has already been reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: batch.ExitConfig, err: err} }
func fatalError(err error) error  { return &exitError{code: batch.ExitFatal, err: err} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps its outcome to an exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := RootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return batch.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			logger.Error("lungprep failed", "err", ee.err)
		}
		return ee.code
	}
	// flag and argument errors
	fmt.Fprintln(stderr, "Error:", err)
	return batch.ExitConfig
}

// RootCmd returns the lungprep command tree
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lungprep",
		Short:         "Resample and size-normalize LUNA16 CT scans and lung masks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "lungprep.yaml", "Path of the YAML configuration file")

	root.AddCommand(
		BatchCmd(),
		ScanCmd(),
		PreviewCmd(),
		ConfigCmd(),
	)

	return root
}

// loadConfig reads and validates the configuration named by --config and
// initializes the console logger from it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, configError(err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configError(err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.JSON = cfg.Output.JSONLogs
	if cfg.Output.Verbose {
		logCfg.Level = charmlog.DebugLevel
	}
	logger.Init(logCfg)
	return cfg, nil
}

func processingParams(cfg *config.Config) preprocess.Params {
	return preprocess.Params{
		TargetSpacing: cfg.TargetSpacing(),
		TargetSize:    cfg.Processing.TargetSize,
		ImageMethod:   cfg.Processing.ImageMethod,
		MaskMethod:    cfg.Processing.MaskMethod,
	}
}
