package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"invoice-printer/internal/config"
	"invoice-printer/internal/infra/logging"
)

// Page describes the printable page in inches.
type Page struct {
	Width  float64
	Height float64
	Margin float64
}

// viewportPixels converts the page width to a CSS pixel viewport.
func (p Page) viewportPixels() (int64, int64) {
	return int64(p.Width * 96), int64(p.Height * 96)
}

// Launcher starts isolated headless Chrome instances, one per call.
type Launcher struct {
	cfg config.Config
}

func NewLauncher(cfg config.Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Browser is a single running Chrome instance with one tab. Close must be
// called on every Browser, including after failed renders.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string
	settle      time.Duration
	pageTimeout time.Duration
}

// createProfileDir makes a fresh user-data dir under the configured base (or
// the OS temp dir).
func createProfileDir(cfg config.Config) (string, error) {
	base := cfg.Render.UserDataDir
	if base == "" {
		base = os.TempDir()
	} else if err := os.MkdirAll(base, 0o700); err != nil {
		return "", fmt.Errorf("cannot create chrome profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "chromedata-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

func (l *Launcher) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if l.cfg.Render.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.Render.ChromePath))
	}
	if l.cfg.Render.ChromeNoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// Launch starts Chrome and opens a blank tab. On error nothing is left running.
func (l *Launcher) Launch(ctx context.Context) (*Browser, error) {
	profileDir, err := createProfileDir(l.cfg)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(profileDir)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser process and the first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		profileDir:  profileDir,
		settle:      l.cfg.Render.SettleDelay,
		pageTimeout: l.cfg.Render.PageTimeout,
	}, nil
}

// run executes actions on the browser tab, stopping at the page timeout or
// when ctx is done, whichever comes first.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, b.pageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Load replaces the tab's document with html, sized to the page width, and
// waits until the document and its subresources have finished loading.
func (b *Browser) Load(ctx context.Context, html string, p Page) error {
	w, h := p.viewportPixels()
	return b.run(ctx,
		chromedp.EmulateViewport(w, h),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitForRenderReady(b.settle, b.pageTimeout),
	)
}

// waitForRenderReady polls document.readyState and then gives in-flight
// network requests a short pause to settle.
func waitForRenderReady(settle, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ready bool
		if err := chromedp.Poll(`document.readyState === "complete"`, &ready,
			chromedp.WithPollingInterval(50*time.Millisecond),
			chromedp.WithPollingTimeout(timeout),
		).Do(ctx); err != nil {
			return err
		}
		return chromedp.Sleep(settle).Do(ctx)
	})
}

// Export prints the loaded document to PDF with fixed margins.
func (b *Browser) Export(ctx context.Context, p Page) ([]byte, error) {
	var pdf []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		pdf, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(false).
			WithPaperWidth(p.Width).
			WithPaperHeight(p.Height).
			WithMarginTop(p.Margin).
			WithMarginBottom(p.Margin).
			WithMarginLeft(p.Margin).
			WithMarginRight(p.Margin).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, errors.New("chrome returned an empty PDF")
	}
	return pdf, nil
}

// Close shuts the browser down and removes its profile directory. It is safe
// to call more than once.
func (b *Browser) Close() error {
	if b == nil || b.cancel == nil {
		return nil
	}
	if err := chromedp.Cancel(b.ctx); err != nil && !IsSessionInterrupted(err) {
		logging.Warn("Chrome did not close cleanly", "error", err)
	}
	b.cancel()
	b.allocCancel()
	b.cancel = nil
	if err := os.RemoveAll(b.profileDir); err != nil {
		return fmt.Errorf("remove chrome profile %s: %w", b.profileDir, err)
	}
	return nil
}

// IsSessionInterrupted reports whether err means the browser session went
// away (cancelled, timed out, or the target closed).
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "context canceled")
}
