// Package export turns a rendered request letter into a paginated A4 PDF by capturing
// it as one raster image and placing that image on every page at a shifting offset.
package export

import "errors"

// Export errors. Each aborts the export and leaves no artifact behind.
var (
	ErrRequestUnavailable = errors.New("request unavailable for export")
	ErrTargetMissing      = errors.New("capture target missing from rendered document")
	ErrCapture            = errors.New("document capture failed")
	ErrSerialize          = errors.New("document serialization failed")
	ErrSave               = errors.New("document save failed")
	ErrExportInFlight     = errors.New("export already in progress")
)
