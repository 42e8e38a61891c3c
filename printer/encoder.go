// Package printer encodes receipts into the ESC/POS wire format and
// drives the physical device over a chunked, paced transport session.
package printer

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Wire opcodes. Cut is issued three ways back-to-back: firmwares honor
// different cut commands and extra ones are harmless.
var (
	opInit        = []byte{0x1B, 0x40}
	opAlignLeft   = []byte{0x1B, 0x61, 0x00}
	opAlignCenter = []byte{0x1B, 0x61, 0x01}
	opAlignRight  = []byte{0x1B, 0x61, 0x02}
	opBoldOn      = []byte{0x1B, 0x45, 0x01}
	opBoldOff     = []byte{0x1B, 0x45, 0x00}
	opCutFeed     = []byte{0x1D, 0x56, 0x41, 0x03}
	opCutNow      = []byte{0x1D, 0x56, 0x00}
	opCutAlt      = []byte{0x1B, 0x69}
)

const (
	ColsNarrow = 32 // 58mm paper
	ColsWide   = 48 // 80mm paper

	// Target raster width in dots per paper size.
	dotsNarrow = 384
	dotsWide   = 576
)

type ReceiptItem struct {
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type Receipt struct {
	Cols           int // 32 or 48; anything else falls back to 32
	Title          string
	Header         []string
	BusinessNumber string
	IssuedAt       time.Time
	Items          []ReceiptItem
	Total          decimal.Decimal
	PaymentMode    string
	Footer         []string
	Logo           image.Image
}

// Encode is pure: identical input produces byte-identical output. All
// hardware failure handling lives in the session manager.
func Encode(r Receipt) ([]byte, error) {
	cols := r.Cols
	if cols != ColsWide {
		cols = ColsNarrow
	}

	var buf bytes.Buffer
	buf.Write(opInit)

	if r.Logo != nil {
		dots := dotsNarrow
		if cols == ColsWide {
			dots = dotsWide
		}
		buf.Write(opAlignCenter)
		buf.Write(encodeRaster(r.Logo, dots))
		buf.WriteByte('\n')
	}

	if r.Title != "" {
		buf.Write(opAlignCenter)
		buf.Write(opBoldOn)
		writeLine(&buf, clip(r.Title, cols))
		buf.Write(opBoldOff)
	}
	for _, h := range r.Header {
		buf.Write(opAlignCenter)
		writeLine(&buf, clip(h, cols))
	}

	buf.Write(opAlignLeft)
	writeLine(&buf, strings.Repeat("-", cols))
	if r.BusinessNumber != "" {
		writeLine(&buf, formatColumns("No "+r.BusinessNumber, r.IssuedAt.Format("02.01.2006 15:04"), cols))
	}
	writeLine(&buf, strings.Repeat("-", cols))

	for _, item := range r.Items {
		value := fmt.Sprintf("x%s = %s", item.Quantity.String(), item.LineTotal.StringFixed(2))
		writeLine(&buf, formatColumns(item.Name, value, cols))
	}

	writeLine(&buf, strings.Repeat("-", cols))
	buf.Write(opBoldOn)
	writeLine(&buf, formatColumns("TOTAL", r.Total.StringFixed(2), cols))
	buf.Write(opBoldOff)
	if r.PaymentMode != "" {
		writeLine(&buf, formatColumns("Paid", r.PaymentMode, cols))
	}

	for _, f := range r.Footer {
		buf.Write(opAlignCenter)
		writeLine(&buf, clip(f, cols))
	}

	buf.WriteString("\n\n\n")
	buf.Write(opCutFeed)
	buf.Write(opCutNow)
	buf.Write(opCutAlt)
	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// formatColumns lays out a label/value pair across the fixed width with
// the value right-aligned. When the pair overflows, the label is
// truncated, never the value. Width counts runes: one rune is one
// printed glyph on the single-byte code pages these printers run.
func formatColumns(label string, value string, cols int) string {
	valueWidth := utf8.RuneCountInString(value)
	if valueWidth >= cols {
		return value
	}
	label = clip(label, cols-valueWidth-1)
	pad := cols - utf8.RuneCountInString(label) - valueWidth
	return label + strings.Repeat(" ", pad) + value
}

func clip(s string, cols int) string {
	if utf8.RuneCountInString(s) <= cols {
		return s
	}
	return string([]rune(s)[:cols])
}
