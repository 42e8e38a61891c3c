// Package workflow wires the engine's components into the checkout
// control flow: optimistic apply, remote write (or offline enqueue),
// sibling notification, side effects and the print job.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/pos_engine/bus"
	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/models"
	"github.com/mmdatafocus/pos_engine/optimistic"
	"github.com/mmdatafocus/pos_engine/printer"
	"github.com/mmdatafocus/pos_engine/queue"
	"github.com/mmdatafocus/pos_engine/remote"
	"github.com/mmdatafocus/pos_engine/sequence"
	"github.com/mmdatafocus/pos_engine/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSaleNotPersisted is the one failure that must always reach the
// operator: both the remote write and the offline queue refused the
// sale. Nothing is retrying in the background.
var ErrSaleNotPersisted = errors.New("sale could not be persisted anywhere")

// RemoteStore is the slice of the remote contract the workflow uses.
type RemoteStore interface {
	CreateSale(ctx context.Context, sale models.SaleRecord) error
	UpdateSaleStatus(ctx context.Context, saleId string, status models.SaleStatus, at time.Time) error
	ListSales(ctx context.Context, scopeId string, dayKey string, status models.SaleStatus) ([]models.SaleRecord, error)
	DecrementInventory(ctx context.Context, scopeId string, itemId string, qty decimal.Decimal) error
}

type CheckoutItem struct {
	ItemId    string          `json:"item_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CheckoutInput struct {
	Items       []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	PaymentMode string         `json:"payment_mode" validate:"required"`
	TableRef    string         `json:"table_ref"`
}

// CheckoutResult reports where the sale landed. PrintJob may be failed
// while the sale is safely persisted; the two outcomes are independent.
type CheckoutResult struct {
	Sale     models.SaleRecord
	Queued   bool
	PrintJob *printer.Job
	PrintErr error
}

type Engine struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Remote  RemoteStore
	Queue   *queue.Queue
	Seq     *sequence.Generator
	Recon   *optimistic.Reconciler
	Bus     *bus.Registry
	Printer *printer.Manager
	ScopeId string
	Cols    int

	// Online reports last-known reachability; the coordinator's
	// connectivity indicator feeds it. Offline-issued numbers carry
	// the marker until reconciled.
	Online func() bool

	mu         sync.Mutex
	refreshing bool
}

// ProcessCheckout runs one sale end to end. The in-memory state is
// updated before any network round trip; the print job runs last and
// its failure never blocks persistence.
func (e *Engine) ProcessCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	online := e.Online == nil || e.Online()
	issued, err := e.Seq.Next(ctx, e.ScopeId, !online)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sale := models.SaleRecord{
		ID:              uuid.NewString(),
		ScopeId:         e.ScopeId,
		DayKey:          issued.DayKey,
		BusinessNumber:  issued.Number,
		TotalAmount:     decimal.Zero,
		PaymentMode:     input.PaymentMode,
		CurrentStatus:   models.SaleStatusPaid,
		TableRef:        input.TableRef,
		OfflineIssued:   issued.Offline,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	for _, in := range input.Items {
		lineTotal := utils.LineTotal(in.Quantity, in.UnitPrice)
		sale.Items = append(sale.Items, models.SaleItem{
			SaleRecordId: sale.ID,
			ItemId:       in.ItemId,
			Name:         in.Name,
			Quantity:     in.Quantity,
			UnitPrice:    in.UnitPrice,
			LineTotal:    lineTotal,
		})
		sale.TotalAmount = sale.TotalAmount.Add(lineTotal)
	}

	handle, err := e.Recon.Apply(sale.ID, func(s *models.SaleRecord) { *s = sale })
	if err != nil {
		return nil, err
	}

	if err := e.persistLocal(ctx, sale); err != nil {
		_ = handle.Rollback()
		return nil, err
	}

	result := &CheckoutResult{Sale: sale}
	writeErr := e.Remote.CreateSale(ctx, sale)
	switch {
	case writeErr == nil, errors.Is(writeErr, remote.ErrDuplicateWrite):
		handle.Commit()
		e.confirmSale(ctx, &sale)
		result.Sale = sale
	case remote.IsTransient(writeErr):
		if qErr := e.Queue.Enqueue(ctx, sale); qErr != nil {
			rollbackErr := handle.Rollback()
			config.LogError(e.Logger, "checkoutWorkflow.go", "ProcessCheckout", "Enqueue", sale.ID, qErr)
			return nil, fmt.Errorf("%w: %v (%v)", ErrSaleNotPersisted, qErr, rollbackErr)
		}
		result.Queued = true
		handle.Commit()
	default:
		_ = handle.Rollback()
		config.LogError(e.Logger, "checkoutWorkflow.go", "ProcessCheckout", "CreateSale", sale.ID, writeErr)
		return nil, fmt.Errorf("%w: %v", optimistic.ErrRolledBack, writeErr)
	}

	// Side effects run detached: their failure is logged and counted,
	// never propagated into the sale.
	e.fireSideEffects(sale)

	if e.Printer != nil {
		receipt := e.buildReceipt(sale)
		payload, encErr := printer.Encode(receipt)
		if encErr != nil {
			result.PrintErr = encErr
		} else {
			job, printErr := e.Printer.Print(ctx, payload)
			result.PrintJob = job
			result.PrintErr = printErr
		}
	}
	return result, nil
}

// TransitionStatus moves a sale between workflow stages optimistically
// and rolls back if the confirming write fails.
func (e *Engine) TransitionStatus(ctx context.Context, saleId string, status models.SaleStatus) error {
	now := time.Now().UTC()
	handle, err := e.Recon.Apply(saleId, func(s *models.SaleRecord) {
		s.CurrentStatus = status
		s.StatusChangedAt = now
	})
	if err != nil {
		return err
	}

	if err := e.Remote.UpdateSaleStatus(ctx, saleId, status, now); err != nil {
		rollbackErr := handle.Rollback()
		config.LogError(e.Logger, "checkoutWorkflow.go", "TransitionStatus", "UpdateSaleStatus", saleId, err)
		return fmt.Errorf("%v: %w", err, rollbackErr)
	}
	handle.Commit()

	_ = e.DB.WithContext(ctx).Model(&models.SaleRecord{}).
		Where("id = ?", saleId).
		Updates(map[string]interface{}{"current_status": status, "status_changed_at": now}).Error
	e.notifySiblings(saleId)
	return nil
}

// Refetch pulls the authoritative rows for today and replaces the
// cache, keeping entries with an in-flight optimistic mutation. Wired
// into the coordinator as its RefetchFunc.
func (e *Engine) Refetch(ctx context.Context, loud bool) error {
	if loud {
		e.setRefreshing(true)
		defer e.setRefreshing(false)
	}
	sales, err := e.Remote.ListSales(ctx, e.ScopeId, utils.DayKey(time.Now()), "")
	if err != nil {
		return err
	}
	e.Recon.Cache().ReplaceAll(sales, e.Recon.Holds)
	for _, s := range sales {
		if err := e.persistLocal(ctx, s); err != nil {
			config.LogError(e.Logger, "checkoutWorkflow.go", "Refetch", "persistLocal", s.ID, err)
		}
	}
	// Best-effort warm snapshot for sibling processes starting cold.
	if err := config.SetRedisObject(snapshotKey(e.ScopeId), sales, 10*time.Minute); err != nil {
		config.LogError(e.Logger, "checkoutWorkflow.go", "Refetch", "SetRedisObject", e.ScopeId, err)
	}
	return nil
}

// WarmStart preloads the cache from the shared redis snapshot so the
// counter screen has rows before the first refetch completes. Missing
// or stale snapshots are fine; the refetch replaces everything.
func (e *Engine) WarmStart() {
	var sales []models.SaleRecord
	found, err := config.GetRedisObject(snapshotKey(e.ScopeId), &sales)
	if err != nil || !found {
		return
	}
	e.Recon.Cache().ReplaceAll(sales, e.Recon.Holds)
}

func snapshotKey(scopeId string) string {
	return "pos:sales:" + scopeId
}

// Refreshing reports whether a loud refetch is running; the status
// surface renders it as the loading indicator.
func (e *Engine) Refreshing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshing
}

func (e *Engine) setRefreshing(v bool) {
	e.mu.Lock()
	e.refreshing = v
	e.mu.Unlock()
}

// confirmSale marks the sale authoritative: the flags flip and the
// business number loses the offline marker, in the store, the cache and
// the caller's copy alike.
func (e *Engine) confirmSale(ctx context.Context, sale *models.SaleRecord) {
	sale.BusinessNumber = sequence.CanonicalNumber(sale.BusinessNumber)
	sale.OfflineIssued = false
	sale.RemoteConfirmed = true
	_ = e.DB.WithContext(ctx).Model(&models.SaleRecord{}).
		Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"remote_confirmed": true,
			"offline_issued":   false,
			"business_number":  sale.BusinessNumber,
		}).Error
	if handle, err := e.Recon.Apply(sale.ID, func(s *models.SaleRecord) {
		s.BusinessNumber = sale.BusinessNumber
		s.OfflineIssued = false
		s.RemoteConfirmed = true
	}); err == nil {
		handle.Commit()
	}
	e.notifySiblings(sale.ID)
}

// notifySiblings fires the two fast channels after a confirmed write:
// the local bus (sibling tabs, ~0 latency) and the realtime channel
// (sibling devices). The slow feed catches anything these miss.
func (e *Engine) notifySiblings(saleId string) {
	now := time.Now().UTC()
	e.Bus.Publish(bus.Event{Channel: "sales", Type: "changed", EntityId: saleId, At: now})
	if err := remote.PublishChange(context.Background(), remote.ChangeEvent{
		Event:    "changed",
		ScopeId:  e.ScopeId,
		EntityId: saleId,
		At:       now,
	}); err != nil {
		config.LogError(e.Logger, "checkoutWorkflow.go", "notifySiblings", "PublishChange", saleId, err)
	}
}

func (e *Engine) persistLocal(ctx context.Context, sale models.SaleRecord) error {
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sale).Error; err != nil {
			return err
		}
		return nil
	})
}

func (e *Engine) buildReceipt(sale models.SaleRecord) printer.Receipt {
	items := make([]printer.ReceiptItem, 0, len(sale.Items))
	for _, it := range sale.Items {
		items = append(items, printer.ReceiptItem{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return printer.Receipt{
		Cols:           e.Cols,
		BusinessNumber: sale.BusinessNumber,
		IssuedAt:       sale.CreatedAt,
		Items:          items,
		Total:          sale.TotalAmount,
		PaymentMode:    sale.PaymentMode,
	}
}
