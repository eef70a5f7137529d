package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"invoice-printer/internal/domain"
)

// FlexID is an identifier that callers may send as a JSON string or number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = FlexID(n.String())
	return nil
}

// TargetSelection is an explicit print target in a request.
type TargetSelection struct {
	Kind        string `json:"kind" validate:"required,oneof=none local cloudApi"`
	PrinterName string `json:"printerName" validate:"required_if=Kind local"`
	PrinterID   FlexID `json:"printerId" validate:"required_if=Kind cloudApi"`
}

// Request is the body of POST /api/printing.
type Request struct {
	InvoiceID    string           `json:"invoiceId" validate:"required"`
	CustomerName string           `json:"customerName" validate:"required"`
	Date         string           `json:"date,omitempty"`
	Items        []domain.RawItem `json:"items" validate:"required"`

	PrinterID   FlexID           `json:"printerId,omitempty"`
	PrinterName string           `json:"printerName,omitempty"`
	Print       bool             `json:"print,omitempty"`
	PrintTarget *TargetSelection `json:"printTarget,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into an ErrInvalidInput.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Request.")
		switch e.Tag() {
		case "required", "required_if":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+e.Param())
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
}

// ResolveTarget picks the print target from the request: an explicit
// printTarget wins, then printerId (cloud), then printerName (local), then
// print:true with the default printer. Otherwise nothing is printed.
func ResolveTarget(req Request, defaultPrinter string) domain.PrintTarget {
	if t := req.PrintTarget; t != nil {
		switch domain.TargetKind(t.Kind) {
		case domain.TargetLocal:
			return domain.LocalTarget(t.PrinterName)
		case domain.TargetCloud:
			return domain.CloudTarget(string(t.PrinterID))
		default:
			return domain.NoTarget()
		}
	}
	switch {
	case req.PrinterID != "":
		return domain.CloudTarget(string(req.PrinterID))
	case req.PrinterName != "":
		return domain.LocalTarget(req.PrinterName)
	case req.Print && defaultPrinter != "":
		return domain.LocalTarget(defaultPrinter)
	}
	return domain.NoTarget()
}
