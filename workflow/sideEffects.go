package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/mmdatafocus/pos_engine/models"
)

const sideEffectTimeout = 15 * time.Second

// fireSideEffects kicks off the per-item inventory decrements. Each one
// is fire-and-forget: a failure is logged and counted but never reaches
// the checkout path, because the sale is already persisted by the time
// these run.
func (e *Engine) fireSideEffects(sale models.SaleRecord) {
	if config.SideEffectsDisabled() {
		return
	}
	for _, item := range sale.Items {
		go e.decrementInventory(sale.ID, item)
	}
}

func (e *Engine) decrementInventory(saleId string, item models.SaleItem) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := e.Remote.DecrementInventory(ctx, e.ScopeId, item.ItemId, item.Quantity); err != nil {
		metrics.SideEffectFailuresTotal.Inc()
		config.LogError(e.Logger, "sideEffects.go", "decrementInventory", "DecrementInventory", saleId, err)
	}
}
