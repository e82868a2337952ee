package batch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

var bannerRule = strings.Repeat("-", 106)

// Report is the append-only plain text record of a batch run. Every entry
// is flushed to the file as soon as it is written.
type Report struct {
	file afero.File
	w    *bufio.Writer
}

// OpenReport opens path for appending, creating it and its directory if needed
func OpenReport(fs afero.Fs, path string) (*Report, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening report: %w", err)
	}
	return &Report{file: f, w: bufio.NewWriter(f)}, nil
}

// Printf appends one formatted entry and flushes it
func (r *Report) Printf(format string, args ...any) error {
	fmt.Fprintf(r.w, format, args...)
	return r.w.Flush()
}

// Header marks the start of a run
func (r *Report) Header(runID string, started time.Time) error {
	return r.Printf("run %s started %s\n", runID, started.Format(time.RFC3339))
}

// Banner separates the entries of one subset from the previous ones
func (r *Report) Banner(subset, last int) error {
	var b strings.Builder
	b.WriteString("\n")
	for i := 0; i < 5; i++ {
		b.WriteString(bannerRule)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "preprocessing images in subset %d out of %d\n\n", subset, last)
	return r.Printf("%s", b.String())
}

// Footer writes the run totals
func (r *Report) Footer(s *Summary) error {
	return r.Printf("\nrun %s finished in %s: %d processed, %d shape mismatches, %d read failures, %d other failures, %s written\n",
		s.RunID, s.Duration.Round(time.Millisecond), s.Processed, s.ShapeMismatches, s.ReadFailures, s.Failures,
		humanize.Bytes(uint64(s.BytesWritten)))
}

// Close flushes pending output and closes the file
func (r *Report) Close() error {
	ferr := r.w.Flush()
	cerr := r.file.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}
