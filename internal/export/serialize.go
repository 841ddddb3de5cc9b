package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const rasterName = "request-document"

// Serialize writes a PDF that shows png on every page of plan.
func Serialize(png []byte, plan Plan) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	opts := fpdf.ImageOptions{ImageType: "PNG", AllowNegativePosition: true}
	pdf.RegisterImageOptionsReader(rasterName, opts, bytes.NewReader(png))
	if pdf.Err() {
		return nil, fmt.Errorf("register image: %w", pdf.Error())
	}
	for _, offset := range plan.Offsets {
		pdf.AddPage()
		pdf.ImageOptions(rasterName, 0, offset, PageWidthMM, plan.ScaledHeight, false, opts, 0, "")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
