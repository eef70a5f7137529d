package render

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"

	"invoice-printer/internal/config"
	"invoice-printer/internal/domain"
)

const (
	mmPerInch = 25.4
	// cellPadding is gofpdf's default cell margin on both sides, in mm.
	cellPadding = 2.0
	fontFamily  = "InvoiceSans"
	// Receipt rolls narrower than this put the item name on its own line.
	narrowWidth = 100.0
)

//go:embed fonts/DejaVuSansCondensed.ttf
var dejaVuRegular []byte

//go:embed fonts/DejaVuSansCondensed-Bold.ttf
var dejaVuBold []byte

// Default shares of qty, price and subtotal. On wide paper they are shares of
// the three quarters of the row not reserved for the item name.
var (
	wideShares   = [3]float64{0.16, 0.28, 0.28}
	narrowShares = [3]float64{0.20, 0.35, 0.45}
)

// Vector draws the invoice with PDF text and cell primitives.
type Vector struct {
	paper  config.PaperSize
	margin float64

	regular []byte
	bold    []byte
}

// NewVector uses the bundled DejaVu Sans unless render.font_path (and
// optionally render.bold_font_path) name a TrueType font.
func NewVector(cfg config.Config) (*Vector, error) {
	v := &Vector{
		paper:   cfg.Paper(),
		margin:  cfg.Render.Margin,
		regular: dejaVuRegular,
		bold:    dejaVuBold,
	}
	if p := cfg.Render.FontPath; p != "" {
		b, err := readFont(p)
		if err != nil {
			return nil, err
		}
		v.regular, v.bold = b, b
	}
	if p := cfg.Render.BoldFontPath; p != "" {
		b, err := readFont(p)
		if err != nil {
			return nil, err
		}
		v.bold = b
	}
	return v, nil
}

// readFont loads a TrueType file and checks that gofpdf can use it.
func readFont(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read font %s: %v", domain.ErrConfig, path, err)
	}
	if err := checkFont(bytes.Clone(b)); err != nil {
		return nil, fmt.Errorf("%w: font %s: %v", domain.ErrConfig, path, err)
	}
	return b, nil
}

func checkFont(b []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unreadable TrueType data: %v", r)
		}
	}()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddUTF8FontFromBytes(fontFamily, "", b)
	pdf.SetFont(fontFamily, "", 10)
	return pdf.Error()
}

func (v *Vector) Name() string { return config.StrategyVector }

// Render is synchronous and holds no external resources; ctx is only checked
// before drawing starts.
func (v *Vector) Render(ctx context.Context, doc *domain.Document) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRender, err)
	}
	start := time.Now()

	var buf bytes.Buffer
	if err := v.draw(doc, &buf); err != nil {
		return nil, fmt.Errorf("%w: vector: %v", domain.ErrRender, err)
	}
	return &Artifact{
		PDF:      buf.Bytes(),
		Strategy: config.StrategyVector,
		Attempts: 1,
		Duration: time.Since(start),
	}, nil
}

func (v *Vector) draw(doc *domain.Document, buf *bytes.Buffer) error {
	width := v.paper.Width * mmPerInch
	height := v.paper.Height * mmPerInch
	margin := v.margin * mmPerInch

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	// Pinned metadata keeps output identical for identical documents.
	pdf.SetCreationDate(doc.IssuedAt)
	pdf.SetModificationDate(doc.IssuedAt)
	pdf.SetCatalogSort(true)
	pdf.SetProducer("invoice-printer", false)

	// gofpdf writes into font buffers while subsetting.
	pdf.AddUTF8FontFromBytes(fontFamily, "", bytes.Clone(v.regular))
	pdf.AddUTF8FontFromBytes(fontFamily, "B", bytes.Clone(v.bold))

	pdf.SetTitle("Invoice "+pdfText(doc.InvoiceID), true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	usable := width - 2*margin
	narrow := usable < narrowWidth
	base, line := 10.0, 6.0
	if narrow {
		base, line = 7.5, 4.5
	}

	pdf.SetFont(fontFamily, "B", base+6)
	pdf.CellFormat(usable, line*1.6, fit(pdf, "INVOICE", usable), "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", base)
	label := usable * 0.3
	for _, row := range [][2]string{
		{"Invoice #", doc.InvoiceID},
		{"Customer", doc.CustomerName},
		{"Date", doc.Date},
	} {
		pdf.CellFormat(label, line, fit(pdf, row[0]+":", label), "", 0, "L", false, 0, "")
		pdf.CellFormat(usable-label, line, fit(pdf, pdfText(row[1]), usable-label), "", 1, "L", false, 0, "")
	}
	pdf.Ln(line / 2)

	num := numberColumns(pdf, doc, usable, base, narrow)
	nameWidth := usable
	if !narrow {
		nameWidth = usable - num[0] - num[1] - num[2]
	}

	pdf.SetFont(fontFamily, "B", base)
	pdf.SetFillColor(235, 235, 235)
	if narrow {
		pdf.CellFormat(usable, line+1, "Item", "", 1, "L", true, 0, "")
	} else {
		pdf.CellFormat(nameWidth, line+1, fit(pdf, "Item", nameWidth), "B", 0, "L", true, 0, "")
	}
	numberRow(pdf, num, line+1, "B", true, "Qty", "Price", "Subtotal")

	pdf.SetFont(fontFamily, "", base)
	if len(doc.Items) == 0 {
		pdf.CellFormat(usable, line, "No items", "", 1, "C", false, 0, "")
	}
	for _, it := range doc.Items {
		ln := 0
		if narrow {
			ln = 1
		}
		pdf.CellFormat(nameWidth, line, fit(pdf, pdfText(it.Name), nameWidth), "", ln, "L", false, 0, "")
		numberRow(pdf, num, line, "", false, strconv.FormatInt(it.Quantity, 10), it.UnitPrice, it.Subtotal)
	}

	pdf.SetFont(fontFamily, "B", base+1)
	totalLabel := usable - num[2]
	pdf.CellFormat(totalLabel, line+1, fit(pdf, "Total", totalLabel), "T", 0, "R", false, 0, "")
	pdf.CellFormat(num[2], line+1, fit(pdf, doc.Total, num[2]), "T", 1, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(buf)
}

// numberColumns sizes qty, price and subtotal to their widest cell, never
// below their default share. When the row is too narrow for that the columns
// shrink proportionally and fit cuts what still overflows.
func numberColumns(pdf *gofpdf.Fpdf, doc *domain.Document, usable, size float64, narrow bool) [3]float64 {
	var need [3]float64
	widest := func(i int, s string) {
		need[i] = max(need[i], pdf.GetStringWidth(s)+cellPadding)
	}

	pdf.SetFont(fontFamily, "B", size)
	for i, h := range []string{"Qty", "Price", "Subtotal"} {
		widest(i, h)
	}
	pdf.SetFont(fontFamily, "B", size+1)
	widest(2, doc.Total)
	pdf.SetFont(fontFamily, "", size)
	for _, it := range doc.Items {
		widest(0, strconv.FormatInt(it.Quantity, 10))
		widest(1, it.UnitPrice)
		widest(2, it.Subtotal)
	}

	avail, shares := usable*0.75, wideShares
	if narrow {
		avail, shares = usable, narrowShares
	}
	var w [3]float64
	sum := 0.0
	for i := range w {
		w[i] = max(avail*shares[i], need[i])
		sum += w[i]
	}
	if sum > avail {
		for i := range w {
			w[i] *= avail / sum
		}
	}
	return w
}

// numberRow draws the qty, price and subtotal cells and ends the line.
func numberRow(pdf *gofpdf.Fpdf, w [3]float64, h float64, border string, fill bool, cells ...string) {
	for i, s := range cells {
		ln := 0
		if i == len(cells)-1 {
			ln = 1
		}
		pdf.CellFormat(w[i], h, fit(pdf, s, w[i]), border, ln, "R", fill, 0, "")
	}
}

// pdfText replaces what gofpdf's UTF-16 encoder cannot carry (runes outside
// the Basic Multilingual Plane and invalid UTF-8) with U+FFFD.
func pdfText(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return utf8.RuneError
		}
		return r
	}, s)
}

// fit truncates s rune by rune so it fits in a cell of width w, marking the
// cut with "..".
func fit(pdf *gofpdf.Fpdf, s string, w float64) string {
	limit := w - cellPadding
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"..") > limit {
		r = r[:len(r)-1]
	}
	return string(r) + ".."
}
