package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/anfrage-erp/anfrage/internal/export"
	jobmetrics "github.com/anfrage-erp/anfrage/internal/jobs"
	"github.com/anfrage-erp/anfrage/internal/platform/blob"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Exporter produces the PDF for a stored request.
type Exporter interface {
	ExportByID(ctx context.Context, id string, sink export.Sink) (export.Result, error)
}

// ObjectStore keeps exported artifacts.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (blob.Object, error)
}

// ExportArchiveJob exports a request and uploads the PDF in one piece.
type ExportArchiveJob struct {
	Exporter Exporter
	Store    ObjectStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Timeout  time.Duration
}

// NewExportArchiveJob wires dependencies for the archive handler.
func NewExportArchiveJob(exporter Exporter, store ObjectStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExportArchiveJob {
	return &ExportArchiveJob{Exporter: exporter, Store: store, Logger: logger, Metrics: metrics, Timeout: 2 * time.Minute}
}

// Handle processes TaskExportArchive tasks.
func (j *ExportArchiveJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Exporter == nil || j.Store == nil {
		return errors.New("export archive: handler not configured")
	}
	var payload ArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RequestID == "" {
		return fmt.Errorf("export archive: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskExportArchive)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	logger := j.logger().With(slog.String("request", payload.RequestID))
	var obj blob.Object
	upload := export.SinkFunc(func(ctx context.Context, name string, data []byte) error {
		var err error
		obj, err = j.Store.Put(ctx, name, data, "application/pdf")
		return err
	})

	res, err := j.Exporter.ExportByID(ctx, payload.RequestID, upload)
	switch {
	case err == nil:
	case errors.Is(err, export.ErrRequestUnavailable), errors.Is(err, export.ErrTargetMissing):
		logger.Warn("archive skipped", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		logger.Error("archive failed", slog.Any("error", err))
		return err
	}

	j.metrics().AddArchived(res.Bytes)
	logger.Info("request archived",
		slog.String("key", obj.Key),
		slog.String("file", res.Filename),
		slog.Int("pages", res.Pages))
	return nil
}

func (j *ExportArchiveJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExportArchive))
	}
	return slog.Default().With(slog.String("job", TaskExportArchive))
}

func (j *ExportArchiveJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
