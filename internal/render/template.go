package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cbroglie/mustache"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/chrome"
	"invoice-printer/internal/infra/logging"
)

//go:embed templates/invoice.html
var defaultTemplate string

// Engine is one headless browser instance, used for a single attempt.
type Engine interface {
	Load(ctx context.Context, html string, page chrome.Page) error
	Export(ctx context.Context, page chrome.Page) ([]byte, error)
	Close() error
}

// Launcher starts a fresh Engine.
type Launcher interface {
	Launch(ctx context.Context) (Engine, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Engine, error)

func (f LauncherFunc) Launch(ctx context.Context) (Engine, error) { return f(ctx) }

// ChromeLauncher adapts a chrome.Launcher to Launcher.
func ChromeLauncher(l *chrome.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context) (Engine, error) {
		b, err := l.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// attempt states, logged on every transition.
const (
	stateLaunching = "launching"
	stateLoading   = "loading"
	stateExporting = "exporting"
	stateRetrying  = "retrying"
	stateFailed    = "failed"
	stateDone      = "done"
)

// Template binds the document into an HTML template and prints it with a
// headless browser, retrying the whole launch-load-export sequence.
type Template struct {
	tmpl     *mustache.Template
	launcher Launcher
	limiter  *chrome.Limiter
	page     chrome.Page

	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTemplate parses the template at cfg.Render.TemplatePath, or the embedded
// default when the path is empty. limiter may be nil.
func NewTemplate(cfg config.Config, launcher Launcher, limiter *chrome.Limiter) (*Template, error) {
	src := defaultTemplate
	if cfg.Render.TemplatePath != "" {
		b, err := os.ReadFile(cfg.Render.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("%w: read template %s: %v", domain.ErrConfig, cfg.Render.TemplatePath, err)
		}
		src = string(b)
	}
	tmpl, err := mustache.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse template: %v", domain.ErrConfig, err)
	}

	paper := cfg.Paper()
	return &Template{
		tmpl:           tmpl,
		launcher:       launcher,
		limiter:        limiter,
		page:           chrome.Page{Width: paper.Width, Height: paper.Height, Margin: cfg.Render.Margin},
		maxRetries:     cfg.Render.MaxRetries,
		retryDelay:     cfg.Render.RetryDelay,
		attemptTimeout: cfg.Render.AttemptTimeout,
		sleep:          sleepCtx,
	}, nil
}

func (t *Template) Name() string { return config.StrategyTemplate }

// Bind renders the template for doc.
func (t *Template) Bind(doc *domain.Document) (string, error) {
	items := make([]map[string]any, 0, len(doc.Items))
	for _, it := range doc.Items {
		items = append(items, map[string]any{
			"name":     it.Name,
			"quantity": it.Quantity,
			"price":    it.UnitPrice,
			"subtotal": it.Subtotal,
		})
	}
	return t.tmpl.Render(map[string]any{
		"invoiceId":    doc.InvoiceID,
		"customerName": doc.CustomerName,
		"date":         doc.Date,
		"items":        items,
		"hasItems":     len(items) > 0,
		"total":        doc.Total,
		"pageWidth":    fmt.Sprintf("%.2fin", t.page.Width),
	})
}

func (t *Template) Render(ctx context.Context, doc *domain.Document) (*Artifact, error) {
	start := time.Now()
	html, err := t.Bind(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: bind template: %v", domain.ErrRender, err)
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		attempts = attempt
		pdf, err := t.attempt(ctx, attempt, html)
		if err == nil {
			logging.Info("Render state", "state", stateDone, "invoice_id", doc.InvoiceID, "attempt", attempt, "bytes", len(pdf))
			return &Artifact{
				PDF:      pdf,
				Strategy: config.StrategyTemplate,
				Attempts: attempt,
				Duration: time.Since(start),
			}, nil
		}
		lastErr = err

		if attempt == t.maxRetries {
			break
		}
		logging.Warn("Render state", "state", stateRetrying, "invoice_id", doc.InvoiceID, "attempt", attempt, "delay", t.retryDelay.String(), "error", err)
		if err := t.sleep(ctx, t.retryDelay); err != nil {
			lastErr = err
			break
		}
	}

	logging.Error("Render state", "state", stateFailed, "invoice_id", doc.InvoiceID, "attempts", attempts, "error", lastErr)
	return nil, fmt.Errorf("%w: template render failed after %d attempts: %v", domain.ErrRender, attempts, lastErr)
}

// attempt runs one launch-load-export cycle. The engine is always closed.
func (t *Template) attempt(ctx context.Context, n int, html string) (pdf []byte, err error) {
	if t.limiter != nil {
		slot, aerr := t.limiter.Acquire(ctx)
		if aerr != nil {
			return nil, fmt.Errorf("acquire engine slot: %w", aerr)
		}
		defer func() { t.limiter.Release(slot, err) }()
	}

	actx, cancel := context.WithTimeout(ctx, t.attemptTimeout)
	defer cancel()

	logging.Debug("Render state", "state", stateLaunching, "attempt", n)
	engine, err := t.launcher.Launch(actx)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logging.Warn("Engine close failed", "attempt", n, "error", cerr)
		}
	}()

	logging.Debug("Render state", "state", stateLoading, "attempt", n)
	if err := engine.Load(actx, html, t.page); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	logging.Debug("Render state", "state", stateExporting, "attempt", n)
	pdf, err = engine.Export(actx, t.page)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if len(pdf) == 0 {
		return nil, errors.New("export: empty document")
	}
	return pdf, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
