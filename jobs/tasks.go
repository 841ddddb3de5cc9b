package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExportArchive exports a request letter and uploads the PDF to the archive bucket.
	TaskExportArchive = "export:archive"
	// TaskIdempotencyCleanup prunes stale idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ArchivePayload identifies the request to archive.
type ArchivePayload struct {
	RequestID string `json:"requestId"`
}

// NewArchiveTask constructs an Asynq task for requestID.
func NewArchiveTask(requestID string) (*asynq.Task, error) {
	if requestID == "" {
		return nil, errors.New("jobs: archive request id required")
	}
	data, err := json.Marshal(ArchivePayload{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExportArchive, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// CleanupPayload configures an idempotency cleanup run.
type CleanupPayload struct {
	RetentionHours int `json:"retentionHours"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
