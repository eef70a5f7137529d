package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_WidgetGadgetScenario(t *testing.T) {
	items, total := Normalize([]RawItem{
		{Name: "Widget", Price: "$10.00", Quantity: "2"},
		{Name: "Gadget", Price: float64(5), Quantity: "3"},
	})

	require.Len(t, items, 2)
	assert.Equal(t, "20.00", items[0].Subtotal)
	assert.Equal(t, "15.00", items[1].Subtotal)
	assert.Equal(t, "10.00", items[0].UnitPrice)
	assert.Equal(t, "5.00", items[1].UnitPrice)
	assert.Equal(t, "35.00", total)
}

func TestNormalize_EmptyItems(t *testing.T) {
	items, total := Normalize([]RawItem{})
	assert.Empty(t, items)
	assert.Equal(t, "0.00", total)
}

func TestNormalize_TotalEqualsSumOfSubtotals(t *testing.T) {
	inputs := [][]RawItem{
		{{Price: "$1,299.99", Quantity: "3"}, {Price: "0.333", Quantity: 7.0}},
		{{Price: 19.995, Quantity: "1"}, {Price: "EUR 4.005", Quantity: "2"}},
		{{Price: json.Number("2.5"), Quantity: json.Number("4")}, {Price: "abc", Quantity: "x"}},
		{{Price: "0", Quantity: "100"}, {Price: nil, Quantity: nil}, {Price: "-3.10", Quantity: "2"}},
	}

	for _, raw := range inputs {
		items, total := Normalize(raw)
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(decimal.RequireFromString(it.Subtotal))
		}
		assert.Equal(t, sum.StringFixed(2), total)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"currency string", "$10.00", "10.00"},
		{"thousands separator", "$1,299.50", "1299.50"},
		{"trailing currency code", "10 EUR", "10.00"},
		{"literal zero", "0", "0.00"},
		{"negative", "-3.10", "-3.10"},
		{"leading dot", ".5", "0.50"},
		{"multiple dots keeps prefix", "1.2.3", "1.20"},
		{"only symbols", "$$", "0.00"},
		{"empty", "", "0.00"},
		{"float", 5.25, "5.25"},
		{"int", 7, "7.00"},
		{"json number", json.Number("12.345"), "12.35"},
		{"nan", math.NaN(), "0.00"},
		{"inf", math.Inf(1), "0.00"},
		{"nil", nil, "0.00"},
		{"bool", true, "0.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParsePrice(tc.in).StringFixed(2))
		})
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"string", "2", 2},
		{"padded", " 4 ", 4},
		{"fraction string truncates", "3.7", 3},
		{"numeric prefix", "2abc", 2},
		{"garbage", "abc", 0},
		{"negative clamps", "-5", 0},
		{"float truncates", 3.9, 3},
		{"int", 6, 6},
		{"json number", json.Number("8"), 8},
		{"nan", math.NaN(), 0},
		{"nil", nil, 0},
		{"map", map[string]any{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseQuantity(tc.in))
		})
	}
}

func TestNewDocument(t *testing.T) {
	issued := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	doc, err := NewDocument("INV-1", "Acme", issued, "", []RawItem{{Name: "Widget", Price: "$10.00", Quantity: "2"}})
	require.NoError(t, err)
	assert.Equal(t, "10/16/2026", doc.Date)
	assert.Equal(t, "20.00", doc.Total)
	assert.Equal(t, issued, doc.IssuedAt)

	doc, err = NewDocument("INV-2", "Acme", issued, "2006-01-02", []RawItem{})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", doc.Date)
	assert.Equal(t, "0.00", doc.Total)
}

func TestNewDocument_InputErrors(t *testing.T) {
	issued := time.Now()
	cases := []struct {
		id, customer string
		items        []RawItem
	}{
		{"", "Acme", []RawItem{}},
		{"INV-1", "  ", []RawItem{}},
		{"INV-1", "Acme", nil},
	}
	for _, tc := range cases {
		_, err := NewDocument(tc.id, tc.customer, issued, "", tc.items)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}
}

func TestPrintResultConstructors(t *testing.T) {
	ok := PrintSucceeded("sent", "42")
	require.NotNil(t, ok.JobID)
	assert.Equal(t, "42", *ok.JobID)
	assert.True(t, ok.Success)

	none := PrintSucceeded("printing not requested", "")
	assert.Nil(t, none.JobID)
	b, err := json.Marshal(none)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"printing not requested","jobId":null}`, string(b))

	failed := PrintFailed("boom")
	assert.False(t, failed.Success)
	assert.Nil(t, failed.JobID)

	assert.True(t, TargetCloud.IsValid())
	assert.False(t, TargetKind("fax").IsValid())
}
