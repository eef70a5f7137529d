package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"invoice-printer/internal/dispatch"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/chrome"
	"invoice-printer/internal/infra/logging"
	"invoice-printer/internal/pipeline"
)

// Processor runs one invoice request.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// PrinterLister lists cloud printers.
type PrinterLister interface {
	Printers(ctx context.Context) ([]dispatch.Printer, error)
}

// PrintingService bundles the collaborators of the printing endpoints.
type PrintingService struct {
	Processor Processor
	Printers  PrinterLister
	Limiter   *chrome.Limiter
	Renderer  string
}

func failure(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// HandleStatus describes the printing endpoint.
func (svc *PrintingService) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"service":  "invoice-printer",
		"renderer": svc.Renderer,
		"methods": fiber.Map{
			"GET":  "service status",
			"POST": "render an invoice to PDF and optionally print it",
		},
	})
}

// HandlePrint renders the posted invoice and dispatches it when a printer was
// selected. With ?download=true the PDF itself is returned.
func (svc *PrintingService) HandlePrint(c *fiber.Ctx) error {
	var req pipeline.Request
	if err := c.BodyParser(&req); err != nil {
		return failure(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}

	// Work is not tied to the client connection; each stage has its own timeouts.
	res, err := svc.Processor.Process(context.Background(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			return failure(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrRender):
			return failure(c, fiber.StatusInternalServerError, err.Error())
		default:
			logging.Error("Printing request failed", "path", c.Path(), "error", err)
			return failure(c, fiber.StatusInternalServerError, "internal error: "+err.Error())
		}
	}

	if c.QueryBool("download") {
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+res.Filename+`"`)
		c.Set("X-Print-Success", strconv.FormatBool(res.PrintResult.Success))
		c.Set("X-Print-Message", res.PrintResult.Message)
		if res.PrintResult.JobID != nil {
			c.Set("X-Print-Job-Id", *res.PrintResult.JobID)
		}
		return c.Send(res.Artifact.PDF)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     res.Message,
		"printResult": res.PrintResult,
		"document": fiber.Map{
			"filename":    res.Filename,
			"contentType": "application/pdf",
			"size":        len(res.Artifact.PDF),
			"base64":      base64.StdEncoding.EncodeToString(res.Artifact.PDF),
		},
	})
}

// HandlePrinters lists printers of the cloud print service.
func (svc *PrintingService) HandlePrinters(c *fiber.Ctx) error {
	printers, err := svc.Printers.Printers(context.Background())
	if err != nil {
		logging.Error("Listing printers failed", "error", err)
		return failure(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"printers": printers,
	})
}

// HandleEngineStats exposes basic observability for the headless engine
// limiter (capacity / idle / in_use).
func (svc *PrintingService) HandleEngineStats(c *fiber.Ctx) error {
	if svc.Limiter == nil {
		return c.JSON(chrome.Stats{})
	}
	return c.JSON(svc.Limiter.Stats())
}
