package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anfrage-erp/anfrage/internal/export"
)

// Exporter produces the PDF of a stored request.
type Exporter interface {
	ExportByID(ctx context.Context, id string, sink export.Sink) (export.Result, error)
}

// ExportOptions configures one export command run.
type ExportOptions struct {
	RequestID  string
	Dir        string
	JSONOutput bool
	Stdout     io.Writer
}

// ExportSummary is the structured outcome printed on success.
type ExportSummary struct {
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
	Pages     int    `json:"pages"`
	Bytes     int    `json:"bytes"`
}

// RunExport writes the request PDF into opts.Dir. The file appears complete or not at
// all.
func RunExport(ctx context.Context, exporter Exporter, opts ExportOptions) (ExportSummary, error) {
	if opts.RequestID == "" {
		return ExportSummary{}, errors.New("export: request id required")
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	res, err := exporter.ExportByID(ctx, opts.RequestID, export.FileSink{Dir: opts.Dir})
	if err != nil {
		return ExportSummary{}, err
	}
	summary := ExportSummary{
		RequestID: opts.RequestID,
		Path:      filepath.Join(opts.Dir, res.Filename),
		Pages:     res.Pages,
		Bytes:     res.Bytes,
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return summary, enc.Encode(summary)
	}
	_, err = fmt.Fprintf(opts.Stdout, "%s (%d Seiten, %d Bytes)\n", summary.Path, summary.Pages, summary.Bytes)
	return summary, err
}

// ExitCode maps export failures to distinct process exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, export.ErrRequestUnavailable):
		return 3
	case errors.Is(err, export.ErrTargetMissing):
		return 4
	case errors.Is(err, export.ErrCapture):
		return 5
	case errors.Is(err, export.ErrSerialize):
		return 6
	case errors.Is(err, export.ErrSave):
		return 7
	case errors.Is(err, export.ErrExportInFlight):
		return 8
	default:
		return 1
	}
}
