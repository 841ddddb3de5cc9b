package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/anfrage-erp/anfrage/internal/document"
	"github.com/anfrage-erp/anfrage/internal/rfq"
)

// DefaultScale is the capture oversampling factor.
const DefaultScale = 2.0

// RequestSource loads stored requests.
type RequestSource interface {
	Get(ctx context.Context, id string) (rfq.Request, error)
}

// Capturer rasterises HTML into a PNG at the given viewport width.
type Capturer interface {
	Screenshot(ctx context.Context, html []byte, width int) ([]byte, error)
}

// LetterRenderer turns a letter into HTML at a capture scale.
type LetterRenderer interface {
	Render(l document.Letter, scale float64) (document.Rendered, error)
}

// Recorder receives export outcomes.
type Recorder interface {
	ObserveExport(outcome string, pages int, took time.Duration)
}

// Result describes a saved artifact.
type Result struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Bytes    int    `json:"bytes"`
}

// Pipeline runs resolve, render, capture, paginate, serialize and save in that order.
type Pipeline struct {
	requests RequestSource
	renderer LetterRenderer
	capturer Capturer
	guard    Guard
	company  document.Company
	scale    float64
	recorder Recorder
	logger   *slog.Logger
}

// Options configures a Pipeline. Zero values select defaults.
type Options struct {
	Company  document.Company
	Scale    float64
	Guard    Guard
	Recorder Recorder
	Logger   *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(requests RequestSource, renderer LetterRenderer, capturer Capturer, opts Options) *Pipeline {
	p := &Pipeline{
		requests: requests,
		renderer: renderer,
		capturer: capturer,
		guard:    opts.Guard,
		company:  opts.Company,
		scale:    opts.Scale,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
	if p.guard == nil {
		p.guard = NewLocalGuard()
	}
	if p.company.Name == "" {
		p.company = document.DefaultCompany
	}
	if p.scale <= 0 {
		p.scale = DefaultScale
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Company returns the sender identity used in letters.
func (p *Pipeline) Company() document.Company {
	return p.company
}

// Letter renders the letter HTML of req at scale 1 for on-screen preview.
func (p *Pipeline) Letter(req rfq.Request) ([]byte, error) {
	out, err := p.renderer.Render(document.Build(req, p.company), 1)
	if err != nil {
		return nil, err
	}
	return out.HTML, nil
}

// ExportByID exports a stored request.
func (p *Pipeline) ExportByID(ctx context.Context, id string, sink Sink) (Result, error) {
	release, err := p.guard.Acquire(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	req, err := p.requests.Get(ctx, id)
	if err != nil {
		p.observe("unavailable", 0, time.Now())
		return Result{}, fmt.Errorf("%w: %v", ErrRequestUnavailable, err)
	}
	return p.run(ctx, req, sink)
}

// Export exports an in-memory request, such as an unsaved preview. owner scopes the
// guard of unsaved requests, typically the session id.
func (p *Pipeline) Export(ctx context.Context, req *rfq.Request, owner string, sink Sink) (Result, error) {
	if req == nil {
		return Result{}, ErrRequestUnavailable
	}
	subject := req.ID
	if subject == "" {
		subject = previewSubject(owner, *req)
	}
	release, err := p.guard.Acquire(ctx, subject)
	if err != nil {
		return Result{}, err
	}
	defer release()
	return p.run(ctx, *req, sink)
}

func (p *Pipeline) run(ctx context.Context, req rfq.Request, sink Sink) (Result, error) {
	start := time.Now()
	log := p.logger.With(slog.String("request", req.ID), slog.String("number", req.RequestNumber))

	rendered, err := p.renderer.Render(document.Build(req, p.company), p.scale)
	if err != nil || !document.HasCaptureTarget(rendered.HTML) {
		p.observe("target_missing", 0, start)
		if err == nil {
			err = errors.New("no element with the capture id")
		}
		return Result{}, fmt.Errorf("%w: %v", ErrTargetMissing, err)
	}

	raster, err := p.capturer.Screenshot(ctx, rendered.HTML, rendered.Width)
	if err != nil {
		p.observe("capture_failed", 0, start)
		log.Warn("export capture failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raster))
	if err != nil {
		p.observe("capture_failed", 0, start)
		return Result{}, fmt.Errorf("%w: decode raster: %v", ErrCapture, err)
	}
	plan, err := PlanPages(cfg.Width, cfg.Height)
	if err != nil {
		p.observe("capture_failed", 0, start)
		return Result{}, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	pdf, err := Serialize(raster, plan)
	if err != nil {
		p.observe("serialize_failed", 0, start)
		log.Error("export serialize failed", slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	name := Filename(req.RequestNumber)
	if err := sink.Save(ctx, name, pdf); err != nil {
		p.observe("save_failed", 0, start)
		log.Error("export save failed", slog.String("file", name), slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: %v", ErrSave, err)
	}

	p.observe("ok", plan.Pages(), start)
	log.Info("export finished", slog.String("file", name), slog.Int("pages", plan.Pages()))
	return Result{Filename: name, Pages: plan.Pages(), Bytes: len(pdf)}, nil
}

func (p *Pipeline) observe(outcome string, pages int, start time.Time) {
	if p.recorder != nil {
		p.recorder.ObserveExport(outcome, pages, time.Since(start))
	}
}

// previewSubject identifies an unsaved submission by owner and content. The creation
// time and generated item ids change on every call and are left out, so a repeated
// click maps to the same subject.
func previewSubject(owner string, req rfq.Request) string {
	req.CreatedAt = time.Time{}
	items := make([]rfq.Item, len(req.Items))
	for i, it := range req.Items {
		it.ID = ""
		items[i] = it
	}
	req.Items = items
	data, err := json.Marshal(req)
	if err != nil {
		data = []byte(req.RequestNumber)
	}
	sum := sha256.Sum256(data)
	return "preview:" + owner + ":" + hex.EncodeToString(sum[:12])
}
