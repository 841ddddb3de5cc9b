package document

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/anfrage-erp/anfrage/web"
)

// PageWidthPx is the CSS pixel width of an A4 page at 96 dpi.
const PageWidthPx = 794

const letterTemplate = "templates/documents/request_letter.html"

// Rendered is a letter ready for capture.
type Rendered struct {
	HTML []byte
	// Width is the viewport width in device pixels at the render scale.
	Width int
	Scale float64
}

// Renderer turns letters into standalone HTML.
type Renderer struct {
	tpl *template.Template
}

// NewRenderer parses the embedded letter template.
func NewRenderer() (*Renderer, error) {
	tpl, err := template.New("request_letter.html").ParseFS(web.Templates, letterTemplate)
	if err != nil {
		return nil, fmt.Errorf("document: parse template: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

type letterView struct {
	Letter
	Scale    float64
	TargetID string
}

// Render produces the letter HTML at scale. A scale below 1 renders at 1.
func (r *Renderer) Render(l Letter, scale float64) (Rendered, error) {
	if scale < 1 {
		scale = 1
	}
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, letterView{Letter: l, Scale: scale, TargetID: CaptureTargetID}); err != nil {
		return Rendered{}, fmt.Errorf("document: render: %w", err)
	}
	return Rendered{HTML: buf.Bytes(), Width: int(float64(PageWidthPx) * scale), Scale: scale}, nil
}

// HasCaptureTarget reports whether html contains the element the capture starts from.
func HasCaptureTarget(html []byte) bool {
	return bytes.Contains(html, []byte(`id="`+CaptureTargetID+`"`))
}
