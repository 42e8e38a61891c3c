// print-test sends a fixed test receipt to the configured printer so a
// counter device can be verified without running a sale.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/printer"
	"github.com/shopspring/decimal"
)

func main() {
	addr := flag.String("addr", "", "printer address host:port (default PRINTER_ADDR)")
	cols := flag.Int("cols", 0, "character columns, 32 or 48 (default PRINTER_COLS)")
	flag.Parse()

	if *cols == 0 {
		*cols = config.PrinterCols()
	}
	if *addr == "" {
		*addr = os.Getenv("PRINTER_ADDR")
	}
	if *addr == "" {
		log.Fatal("no printer address: pass -addr or set PRINTER_ADDR")
	}

	receipt := printer.Receipt{
		Cols:           *cols,
		Title:          "PRINTER TEST",
		Header:         []string{"If you can read this,", "the transport works."},
		BusinessNumber: "TEST-0000",
		IssuedAt:       time.Now(),
		Items: []printer.ReceiptItem{
			{Name: "Test item", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(0), LineTotal: decimal.NewFromInt(0)},
		},
		Total:       decimal.NewFromInt(0),
		PaymentMode: "NONE",
	}
	payload, err := printer.Encode(receipt)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}

	mgr := printer.NewManager(printer.NewNetAdapter(), config.GetLogger(), printer.Filter{Addr: *addr})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job := mgr.NewJob(payload)
	if err := job.Run(ctx); err != nil {
		log.Fatalf("print failed at chunk %d: %v", job.Cursor(), err)
	}
	log.Printf("printed %d bytes", len(payload))
}
