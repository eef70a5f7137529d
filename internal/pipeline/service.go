// Package pipeline runs one invoice request end to end: validate, normalize,
// render, optionally dispatch.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/logging"
	"invoice-printer/internal/render"
)

// Dispatcher delivers a rendered document.
type Dispatcher interface {
	Dispatch(ctx context.Context, pdf []byte, target domain.PrintTarget, invoiceID string) domain.PrintResult
}

// Result is the outcome of a successfully rendered request. Print failures are
// reported in PrintResult only.
type Result struct {
	Document    *domain.Document
	Artifact    *render.Artifact
	Filename    string
	Target      domain.PrintTarget
	PrintResult domain.PrintResult
	Message     string
}

type Service struct {
	renderer       render.Renderer
	dispatcher     Dispatcher
	validate       *validator.Validate
	dateLayout     string
	defaultPrinter string
	now            func() time.Time
}

func NewService(cfg config.Config, renderer render.Renderer, dispatcher Dispatcher) *Service {
	return &Service{
		renderer:       renderer,
		dispatcher:     dispatcher,
		validate:       newValidator(),
		dateLayout:     cfg.Render.DateLayout,
		defaultPrinter: cfg.Print.Local.DefaultPrinter,
		now:            time.Now,
	}
}

// Process validates req, renders it and dispatches the PDF when a target was
// selected. It returns ErrInvalidInput or ErrRender; dispatch never fails it.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	issued, err := s.issuedAt(req.Date)
	if err != nil {
		return nil, err
	}

	doc, err := domain.NewDocument(req.InvoiceID, req.CustomerName, issued, s.dateLayout, req.Items)
	if err != nil {
		return nil, err
	}

	art, err := s.renderer.Render(ctx, doc)
	if err != nil {
		logging.Error("Invoice render failed", "invoice_id", doc.InvoiceID, "strategy", s.renderer.Name(), "error", err)
		return nil, err
	}
	logging.Info("Invoice rendered",
		"invoice_id", doc.InvoiceID,
		"strategy", art.Strategy,
		"attempts", art.Attempts,
		"bytes", len(art.PDF),
		"duration_ms", art.Duration.Milliseconds(),
	)

	target := ResolveTarget(req, s.defaultPrinter)
	var pr domain.PrintResult
	if target.Kind == domain.TargetNone && req.Print && req.PrintTarget == nil {
		pr = domain.PrintFailed("printing requested but no printer was selected and no default printer is configured")
	} else {
		pr = s.dispatcher.Dispatch(ctx, art.PDF, target, doc.InvoiceID)
	}

	msg := "Invoice generated successfully"
	switch {
	case !pr.Success:
		msg = "Invoice generated but printing failed: " + pr.Message
	case target.Kind != domain.TargetNone:
		msg = "Invoice generated and sent to printer"
	}

	return &Result{
		Document:    doc,
		Artifact:    art,
		Filename:    render.Filename(doc),
		Target:      target,
		PrintResult: pr,
		Message:     msg,
	}, nil
}

// issuedAt parses an optional request date (RFC 3339 or YYYY-MM-DD).
func (s *Service) issuedAt(date string) (time.Time, error) {
	if date == "" {
		return s.now(), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, date); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date must be RFC 3339 or YYYY-MM-DD", domain.ErrInvalidInput)
}
