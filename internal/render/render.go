// Package render turns an invoice document into PDF bytes. Two strategies
// exist: a vector one that draws the document directly and a template one that
// prints bound HTML through headless Chrome.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/chrome"
)

// Artifact is a rendered PDF plus how it was produced.
type Artifact struct {
	PDF      []byte
	Strategy string
	Attempts int
	Duration time.Duration
}

// Filename is the suggested download name for the artifact.
func Filename(doc *domain.Document) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, doc.InvoiceID)
	return "invoice-" + id + ".pdf"
}

// Renderer produces a PDF for a document.
type Renderer interface {
	Render(ctx context.Context, doc *domain.Document) (*Artifact, error)
	// Name is the strategy name reported by the status endpoint.
	Name() string
}

// New builds the renderer selected by cfg.Render.Strategy. The limiter is only
// used by the template strategy and may be nil for vector.
func New(cfg config.Config, limiter *chrome.Limiter) (Renderer, error) {
	switch cfg.Render.Strategy {
	case config.StrategyVector:
		v, err := NewVector(cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.StrategyTemplate:
		return NewTemplate(cfg, ChromeLauncher(chrome.NewLauncher(cfg)), limiter)
	default:
		return nil, fmt.Errorf("%w: unknown render strategy %q", domain.ErrConfig, cfg.Render.Strategy)
	}
}
