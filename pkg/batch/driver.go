// Package batch drives the preprocessing of a LUNA16-style directory tree:
// every scan of every subset is processed together with its lung mask,
// validated against the target size and persisted as .npy arrays.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	charmlog "github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"lungprep/internal/models"
	"lungprep/pkg/config"
	"lungprep/pkg/interpolation"
	"lungprep/pkg/normalize"
	"lungprep/pkg/preprocess"
	"lungprep/pkg/volumeio"
)

// ErrShapeMismatch marks a processed pair whose rows or columns differ from the target size
var ErrShapeMismatch = errors.New("shape mismatch")

// Process exit codes
const (
	ExitOK      = 0
	ExitPartial = 1
	ExitConfig  = 2
	ExitFatal   = 3
)

// ScanProcessor turns one file into a processed volume
type ScanProcessor interface {
	Process(ctx context.Context, path string, isMask bool) (*preprocess.Result, error)
}

// Options holds the layout and policy of a batch run
type Options struct {
	ImageRoot    string
	MaskRoot     string
	ImageOutRoot string
	MaskOutRoot  string
	ReportPath   string
	MetricsFile  string

	NumSubsets    int
	SubsetPrefix  string
	ImagePattern  string
	ProgressEvery int
	TargetSize    int
	FileTimeout   time.Duration
	FailFast      bool
}

// OptionsFromConfig copies the batch related settings out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ImageRoot:     cfg.Paths.ImageRoot,
		MaskRoot:      cfg.Paths.MaskRoot,
		ImageOutRoot:  cfg.Paths.ImageOutRoot,
		MaskOutRoot:   cfg.Paths.MaskOutRoot,
		ReportPath:    cfg.Paths.Report,
		MetricsFile:   cfg.Paths.MetricsFile,
		NumSubsets:    cfg.Batch.NumSubsets,
		SubsetPrefix:  cfg.Batch.SubsetPrefix,
		ImagePattern:  cfg.Batch.ImagePattern,
		ProgressEvery: cfg.Batch.ProgressEvery,
		TargetSize:    cfg.Processing.TargetSize,
		FileTimeout:   cfg.Batch.FileTimeout,
		FailFast:      cfg.Batch.FailFast,
	}
}

// Summary holds the totals of a batch run
type Summary struct {
	RunID           string
	Files           int
	Processed       int
	ShapeMismatches int
	ReadFailures    int
	Failures        int
	BytesWritten    int64
	Duration        time.Duration
}

// ExitCode maps the outcome of a completed run to a process exit code
func (s *Summary) ExitCode() int {
	if s.ShapeMismatches > 0 || s.ReadFailures > 0 || s.Failures > 0 {
		return ExitPartial
	}
	return ExitOK
}

// Driver walks the subsets sequentially, one file at a time
type Driver struct {
	fs        afero.Fs
	processor ScanProcessor
	writer    volumeio.Writer
	opts      Options
	log       *charmlog.Logger
	metrics   *Metrics
}

// NewDriver creates a driver. fs is used for traversal and the report.
func NewDriver(fs afero.Fs, processor ScanProcessor, writer volumeio.Writer, opts Options, log *charmlog.Logger) *Driver {
	if opts.SubsetPrefix == "" {
		opts.SubsetPrefix = "subset"
	}
	return &Driver{
		fs:        fs,
		processor: processor,
		writer:    writer,
		opts:      opts,
		log:       log,
		metrics:   NewMetrics(),
	}
}

// Metrics exposes the run metrics
func (d *Driver) Metrics() *Metrics {
	return d.metrics
}

// Run processes every subset. Per-file failures are reported and counted;
// the returned error is non-nil only for failures that stop the run. The
// report is closed and metrics are written on every return path.
func (d *Driver) Run(ctx context.Context) (summary *Summary, err error) {
	started := time.Now()
	summary = &Summary{RunID: uuid.NewString()}
	log := d.log.With("run", summary.RunID)

	report, err := OpenReport(d.fs, d.opts.ReportPath)
	if err != nil {
		return summary, err
	}
	defer func() {
		summary.Duration = time.Since(started)
		if ferr := report.Footer(summary); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := report.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if d.opts.MetricsFile != "" {
			if merr := d.metrics.WriteTextfile(d.opts.MetricsFile); merr != nil && err == nil {
				err = fmt.Errorf("writing metrics: %w", merr)
			}
		}
	}()

	if err := report.Header(summary.RunID, started); err != nil {
		return summary, err
	}

	last := d.opts.NumSubsets - 1
	for i := 0; i < d.opts.NumSubsets; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log.Info("preprocessing subset", "subset", i, "last", last)
		if err := report.Banner(i, last); err != nil {
			return summary, err
		}
		if err := d.runSubset(ctx, i, report, summary, log); err != nil {
			return summary, err
		}
	}

	log.Info("batch finished",
		"processed", summary.Processed,
		"mismatches", summary.ShapeMismatches,
		"readFailures", summary.ReadFailures,
		"failures", summary.Failures,
		"written", humanize.Bytes(uint64(summary.BytesWritten)))
	return summary, nil
}

func (d *Driver) subsetName(i int) string {
	return d.opts.SubsetPrefix + strconv.Itoa(i)
}

// listImages returns the names of the scan headers of one subset, sorted
func (d *Driver) listImages(dir string) ([]string, error) {
	entries, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := doublestar.Match(d.opts.ImagePattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("image pattern %q: %w", d.opts.ImagePattern, err)
		}
		if ok {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (d *Driver) runSubset(ctx context.Context, subset int, report *Report, summary *Summary, log *charmlog.Logger) error {
	dir := filepath.Join(d.opts.ImageRoot, d.subsetName(subset))
	names, err := d.listImages(dir)
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return err
		}
		log.Warn("skipping subset", "dir", dir, "err", err)
		return report.Printf("skipping subset directory %s: %v\n", dir, err)
	}

	for count, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.opts.ProgressEvery > 0 && (count+1)%d.opts.ProgressEvery == 0 {
			log.Info("progress", "subset", subset, "image", count+1, "of", len(names))
		}

		summary.Files++
		fileStart := time.Now()
		result, err := d.processPair(ctx, subset, name, report, summary)
		d.metrics.observe(result, time.Since(fileStart))
		if err != nil {
			return err
		}
	}
	return nil
}

// processPair handles one scan and its mask and returns the outcome label.
// A non-nil error aborts the run.
func (d *Driver) processPair(ctx context.Context, subset int, name string, report *Report, summary *Summary) (string, error) {
	log := d.log.With("subset", subset, "file", name)
	if err := report.Printf("processing image: %s\n", name); err != nil {
		return resultFailure, err
	}

	fileCtx := ctx
	if d.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, d.opts.FileTimeout)
		defer cancel()
	}

	imagePath := filepath.Join(d.opts.ImageRoot, d.subsetName(subset), name)
	maskPath := filepath.Join(d.opts.MaskRoot, name)

	image, err := d.processor.Process(fileCtx, imagePath, false)
	if err != nil {
		return d.fileFailed(ctx, log, report, summary, "image", name, err)
	}
	mask, err := d.processor.Process(fileCtx, maskPath, true)
	if err != nil {
		return d.fileFailed(ctx, log, report, summary, "mask", name, err)
	}

	outcome := resultOK
	if err := checkShapes(image.Volume, mask.Volume, d.opts.TargetSize); err != nil {
		outcome = resultShapeMismatch
		summary.ShapeMismatches++
		log.Error("shape validation failed", "err", err)
		if rerr := report.Printf("ERROR, %v in %s\n", err, name); rerr != nil {
			return outcome, rerr
		}
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	for _, out := range []struct {
		path string
		vol  *models.Volume
	}{
		{filepath.Join(d.opts.ImageOutRoot, d.subsetName(subset), base), image.Volume},
		{filepath.Join(d.opts.MaskOutRoot, base), mask.Volume},
	} {
		written, n, err := d.writer.Write(out.path, out.vol)
		if err != nil {
			return resultFailure, fmt.Errorf("persisting %s: %w", name, err)
		}
		summary.BytesWritten += n
		d.metrics.bytesWritten.Add(float64(n))
		log.Debug("saved array", "path", written, "size", humanize.Bytes(uint64(n)))
	}

	stats := image.Stats()
	summary.Processed++
	err = report.Printf("done: %s shape %s -> %s spacing %s -> %s range [%g, %g] mean %.2f\n",
		name, image.OriginalShape, image.Volume.Shape, image.Spacing, image.AchievedSpacing,
		stats.Min, stats.Max, stats.Mean)
	return outcome, err
}

// fileFailed records a per-file failure. Cancellation of the run, unsupported
// interpolation methods and, in fail-fast mode, unreadable volumes stop the run.
func (d *Driver) fileFailed(ctx context.Context, log *charmlog.Logger, report *Report, summary *Summary, kind, name string, err error) (string, error) {
	if ctx.Err() != nil {
		return resultFailure, ctx.Err()
	}
	if errors.Is(err, interpolation.ErrUnsupportedMethod) {
		return resultFailure, err
	}

	result := resultFailure
	if errors.Is(err, preprocess.ErrVolumeRead) {
		result = resultReadFailure
		summary.ReadFailures++
		if d.opts.FailFast {
			failed := fmt.Errorf("%s %s: %w", kind, name, err)
			if rerr := report.Printf("ERROR, cannot read %s of %s: %v\n", kind, name, err); rerr != nil {
				return result, errors.Join(failed, fmt.Errorf("writing report: %w", rerr))
			}
			return result, failed
		}
	} else {
		summary.Failures++
	}

	log.Error("skipping file", "kind", kind, "err", err)
	return result, report.Printf("ERROR, cannot process %s of %s: %v\n", kind, name, err)
}

// checkShapes validates both arrays of a pair and reports them in a single error
func checkShapes(image, mask *models.Volume, size int) error {
	var bad []string
	if !normalize.Conforms(image, size) {
		bad = append(bad, "image shape is "+image.Shape.String())
	}
	if !normalize.Conforms(mask, size) {
		bad = append(bad, "mask shape is "+mask.Shape.String())
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s, want rows and columns of %d", ErrShapeMismatch, strings.Join(bad, ", "), size)
}
