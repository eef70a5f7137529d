package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
)

// Printer is a printer known to the cloud print service.
type Printer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
	Computer    string `json:"computer"`
}

// PrintJob is the submit payload of the cloud print API.
type PrintJob struct {
	PrinterID   int64           `json:"printerId"`
	Title       string          `json:"title"`
	ContentType string          `json:"contentType"`
	Content     string          `json:"content"`
	Source      string          `json:"source"`
	Options     PrintJobOptions `json:"options"`
	Qty         int             `json:"qty"`
}

type PrintJobOptions struct {
	Paper     string `json:"paper,omitempty"`
	FitToPage bool   `json:"fit_to_page"`
}

// Client talks to a PrintNode-compatible cloud print API.
type Client struct {
	baseURL string
	apiKey  string
	paper   string
	source  string
	timeout time.Duration
	now     func() time.Time
}

func NewClient(cfg config.Config) *Client {
	c := cfg.Print.Cloud
	return &Client{
		baseURL: c.BaseURL,
		apiKey:  c.APIKey,
		paper:   c.Paper,
		source:  c.Source,
		timeout: c.Timeout,
		now:     time.Now,
	}
}

// APIError is a non-2xx answer from the cloud API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud print API returned %d: %s", e.Status, e.Message)
}

func (c *Client) requireKey() error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: cloud print API key is not configured", domain.ErrConfig)
	}
	return nil
}

// NewJob builds the submit payload for a rendered invoice.
func (c *Client) NewJob(pdf []byte, printerID int64, invoiceID string) PrintJob {
	return PrintJob{
		PrinterID:   printerID,
		Title:       fmt.Sprintf("Invoice %s %s", invoiceID, c.now().UTC().Format(time.RFC3339)),
		ContentType: "pdf_base64",
		Content:     base64.StdEncoding.EncodeToString(pdf),
		Source:      c.source,
		Options:     PrintJobOptions{Paper: c.paper, FitToPage: true},
		Qty:         1,
	}
}

// Submit creates a print job and returns the remote job id.
func (c *Client) Submit(ctx context.Context, job PrintJob) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	agent := fiber.Post(c.baseURL + "/printjobs").
		BasicAuth(c.apiKey, "").
		Timeout(c.timeout).
		JSON(job)
	status, body, errs := agent.Bytes()
	if err := errors.Join(errs...); err != nil {
		return "", fmt.Errorf("cloud print request failed: %w", err)
	}
	if status < 200 || status > 299 {
		return "", &APIError{Status: status, Message: remoteMessage(body)}
	}
	return parseJobID(body), nil
}

// Printers lists the printers visible to the API key.
func (c *Client) Printers(ctx context.Context) ([]Printer, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agent := fiber.Get(c.baseURL + "/printers").
		BasicAuth(c.apiKey, "").
		Timeout(c.timeout)
	status, body, errs := agent.Bytes()
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("cloud print request failed: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, &APIError{Status: status, Message: remoteMessage(body)}
	}

	var remote []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		State       string `json:"state"`
		Computer    struct {
			Name string `json:"name"`
		} `json:"computer"`
	}
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, fmt.Errorf("decode printers: %w", err)
	}
	out := make([]Printer, 0, len(remote))
	for _, p := range remote {
		out = append(out, Printer{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			State:       p.State,
			Computer:    p.Computer.Name,
		})
	}
	return out, nil
}

// remoteMessage extracts {"message": ...} from an error body, falling back to
// the raw text.
func remoteMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "no response body"
}

// parseJobID accepts a bare number, a quoted string or {"id": ...}.
func parseJobID(body []byte) string {
	var n json.Number
	if err := json.Unmarshal(body, &n); err == nil {
		return n.String()
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	var obj struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && len(obj.ID) > 0 {
		return strings.Trim(string(obj.ID), `"`)
	}
	return strings.TrimSpace(string(body))
}

// parsePrinterID accepts the printer id as sent by callers.
func parsePrinterID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid printer id %q", s)
	}
	return id, nil
}
