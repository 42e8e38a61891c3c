package optimistic

import (
	"sort"
	"sync"

	"github.com/mmdatafocus/pos_engine/models"
)

// Cache is the in-memory working set of sales the UI reads from. The
// refetch coordinator replaces it wholesale with authoritative rows;
// the reconciler mutates single entries optimistically in between.
type Cache struct {
	mu    sync.RWMutex
	sales map[string]models.SaleRecord
}

func NewCache() *Cache {
	return &Cache{sales: map[string]models.SaleRecord{}}
}

func (c *Cache) Get(id string) (models.SaleRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sales[id]
	if !ok {
		return models.SaleRecord{}, false
	}
	return s.Clone(), true
}

func (c *Cache) Put(sale models.SaleRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sales[sale.ID] = sale.Clone()
}

func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sales, id)
}

// ReplaceAll swaps in the authoritative refetch result. Last confirmed
// write wins across processes; in-flight optimistic entries are kept so
// a refetch racing a checkout does not make the sale vanish from the
// counter screen.
func (c *Cache) ReplaceAll(sales []models.SaleRecord, keep func(id string) bool) {
	next := make(map[string]models.SaleRecord, len(sales))
	for _, s := range sales {
		next[s.ID] = s.Clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sales {
		if _, ok := next[id]; !ok && keep != nil && keep(id) {
			next[id] = s
		}
	}
	c.sales = next
}

func (c *Cache) List() []models.SaleRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.SaleRecord, 0, len(c.sales))
	for _, s := range c.sales {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
