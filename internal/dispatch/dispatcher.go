// Package dispatch delivers rendered documents to a printer: nowhere, the
// local OS spooler, or a cloud print API.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
	"invoice-printer/internal/infra/logging"
)

// Dispatcher routes a document to the path selected by its target. Dispatch
// never fails the caller; every outcome is a PrintResult.
type Dispatcher struct {
	local *Local
	cloud *Client
}

func New(cfg config.Config, runner CommandRunner) *Dispatcher {
	return &Dispatcher{
		local: NewLocal(cfg, runner),
		cloud: NewClient(cfg),
	}
}

// Cloud returns the cloud print client, used for printer listings.
func (d *Dispatcher) Cloud() *Client { return d.cloud }

// Dispatch sends pdf to target. invoiceID is used for the cloud job title.
func (d *Dispatcher) Dispatch(ctx context.Context, pdf []byte, target domain.PrintTarget, invoiceID string) domain.PrintResult {
	switch target.Kind {
	case domain.TargetNone, "":
		return domain.PrintSucceeded("printing not requested", "")
	case domain.TargetLocal:
		return d.local.Print(ctx, pdf, target.PrinterName)
	case domain.TargetCloud:
		return d.dispatchCloud(ctx, pdf, target.PrinterID, invoiceID)
	default:
		return domain.PrintFailed(fmt.Sprintf("unknown print target %q", target.Kind))
	}
}

func (d *Dispatcher) dispatchCloud(ctx context.Context, pdf []byte, printerID, invoiceID string) domain.PrintResult {
	if err := d.cloud.requireKey(); err != nil {
		logging.Warn("Cloud printing not configured", "printer_id", printerID, "error", err)
		return domain.PrintFailed("cloud printing is not configured: missing API key")
	}
	id, err := parsePrinterID(printerID)
	if err != nil {
		return domain.PrintFailed(err.Error())
	}

	jobID, err := d.cloud.Submit(ctx, d.cloud.NewJob(pdf, id, invoiceID))
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrDispatch, err)
		logging.Error("Cloud print submit failed", "printer_id", id, "invoice_id", invoiceID, "error", err)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return domain.PrintFailed(apiErr.Message)
		}
		return domain.PrintFailed(err.Error())
	}
	logging.Info("Document sent to cloud printer", "printer_id", id, "invoice_id", invoiceID, "job_id", jobID)
	return domain.PrintSucceeded(fmt.Sprintf("document sent to cloud printer %d", id), jobID)
}
