package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	nonNumeric   = regexp.MustCompile(`[^0-9.\-]`)
	leadingFloat = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)`)
	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
)

// RawItem is a line item as it arrives on the wire. Price and quantity may be
// strings (with currency symbols), numbers or missing.
type RawItem struct {
	Name     string `json:"name"`
	Price    any    `json:"price"`
	Quantity any    `json:"quantity"`
}

// LineItem is the canonical, computed form of a RawItem.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"-"`
	UnitPrice string          `json:"price"`
	Subtotal  string          `json:"subtotal"`
}

// Document is the immutable invoice handed to exactly one render call.
type Document struct {
	InvoiceID    string     `json:"invoiceId"`
	CustomerName string     `json:"customerName"`
	Date         string     `json:"date"`
	IssuedAt     time.Time  `json:"-"`
	Items        []LineItem `json:"items"`
	Total        string     `json:"total"`
}

// NewDocument normalizes raw items and builds the invoice document. A nil
// items slice is an input error; an empty one yields a zero total.
func NewDocument(invoiceID, customerName string, issuedAt time.Time, dateLayout string, raw []RawItem) (*Document, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, fmt.Errorf("%w: invoiceId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(customerName) == "" {
		return nil, fmt.Errorf("%w: customerName is required", ErrInvalidInput)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: items are required", ErrInvalidInput)
	}
	if dateLayout == "" {
		dateLayout = "1/2/2006"
	}

	items, total := Normalize(raw)
	return &Document{
		InvoiceID:    invoiceID,
		CustomerName: customerName,
		Date:         issuedAt.Format(dateLayout),
		IssuedAt:     issuedAt,
		Items:        items,
		Total:        total,
	}, nil
}

// Normalize converts raw items into canonical line items and returns them
// together with the invoice total, both fixed to two decimals.
func Normalize(raw []RawItem) ([]LineItem, string) {
	items := make([]LineItem, 0, len(raw))
	total := decimal.Zero
	for _, r := range raw {
		price := ParsePrice(r.Price)
		qty := ParseQuantity(r.Quantity)
		subtotal := price.Mul(decimal.NewFromInt(qty)).StringFixed(2)

		// Re-parse the fixed string so the total matches what is printed.
		sub, err := decimal.NewFromString(subtotal)
		if err == nil {
			total = total.Add(sub)
		}

		items = append(items, LineItem{
			Name:      r.Name,
			Quantity:  qty,
			Price:     price,
			UnitPrice: price.StringFixed(2),
			Subtotal:  subtotal,
		})
	}
	return items, total.StringFixed(2)
}

// ParsePrice parses a price given as text ("$1,299.50", "10 EUR") or as a
// number. Anything unparsable yields zero.
func ParsePrice(v any) decimal.Decimal {
	switch p := v.(type) {
	case string:
		if p == "0" {
			return decimal.Zero
		}
		lit := leadingFloat.FindString(nonNumeric.ReplaceAllString(p, ""))
		if lit == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(lit)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(p)
	case float32:
		return ParsePrice(float64(p))
	case int:
		return decimal.NewFromInt(int64(p))
	case int64:
		return decimal.NewFromInt(p)
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return p
	default:
		return decimal.Zero
	}
}

// ParseQuantity parses an integer quantity from text or a number. Fractions
// are truncated; unparsable and negative values yield zero.
func ParseQuantity(v any) int64 {
	var q int64
	switch n := v.(type) {
	case string:
		lit := leadingInt.FindString(strings.TrimSpace(n))
		parsed, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return 0
		}
		q = parsed
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) >= math.MaxInt64 {
			return 0
		}
		q = int64(n)
	case float32:
		return ParseQuantity(float64(n))
	case int:
		q = int64(n)
	case int64:
		q = n
	case json.Number:
		return ParseQuantity(n.String())
	default:
		return 0
	}
	if q < 0 {
		return 0
	}
	return q
}
