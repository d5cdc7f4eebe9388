package returns

import (
	"context"
	"fmt"
	"time"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/pkg/logger"
)

// PlaceholderName is shown when an inventory name cannot be resolved.
const PlaceholderName = "Unknown item"

// CatalogItem is a sale line that still has something left to return.
type CatalogItem struct {
	SaleLineItem
	Name         string `json:"name"`
	NameResolved bool   `json:"nameResolved"`
	Remaining    int64  `json:"remaining"`
}

// Catalog is the set of returnable lines of one sale at load time.
type Catalog struct {
	SaleID     id.ID
	GSTPercent types.Percent
	Items      []CatalogItem
	// Warnings carries degraded lookups (DEPENDENCY_ERROR) that did not
	// prevent loading.
	Warnings []*apperror.AppError
	LoadedAt time.Time

	index map[id.ID]int
}

// Item returns the catalog entry for a line, if it is returnable.
func (c *Catalog) Item(lineItemID id.ID) (CatalogItem, bool) {
	if c == nil {
		return CatalogItem{}, false
	}
	i, ok := c.index[lineItemID]
	if !ok {
		return CatalogItem{}, false
	}
	return c.Items[i], true
}

// CatalogLoader builds catalogs from the store.
type CatalogLoader struct {
	repo  Repository
	names NameResolver
	now   func() time.Time
}

// NewCatalogLoader creates a loader. names may be nil, in which case every
// item gets the placeholder name.
func NewCatalogLoader(repo Repository, names NameResolver) *CatalogLoader {
	return &CatalogLoader{repo: repo, names: names, now: time.Now}
}

// Load fetches the sale's lines and keeps those with remaining > 0.
func (l *CatalogLoader) Load(ctx context.Context, saleID id.ID) (*Catalog, error) {
	gst, err := l.repo.GetSaleGSTPercentage(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("get sale gst: %w", err)
	}

	lines, err := l.repo.GetSaleLineItems(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("get sale line items: %w", err)
	}

	cat := &Catalog{
		SaleID:     saleID,
		GSTPercent: gst,
		LoadedAt:   l.now().UTC(),
		index:      make(map[id.ID]int),
	}

	itemIDs := make([]id.ID, 0, len(lines))
	for _, li := range lines {
		remaining := li.RemainingReturnable()
		if remaining <= 0 {
			continue
		}
		cat.index[li.ID] = len(cat.Items)
		cat.Items = append(cat.Items, CatalogItem{
			SaleLineItem: li,
			Name:         PlaceholderName,
			Remaining:    remaining,
		})
		itemIDs = append(itemIDs, li.InventoryItemID)
	}

	if len(itemIDs) > 0 {
		l.resolveNames(ctx, cat, itemIDs)
	}

	return cat, nil
}

func (l *CatalogLoader) resolveNames(ctx context.Context, cat *Catalog, itemIDs []id.ID) {
	if l.names == nil {
		return
	}

	names, err := l.names.ResolveInventoryNames(ctx, itemIDs)
	if err != nil {
		depErr := apperror.NewDependency("inventory name resolution", err).
			WithDetail("sale_id", cat.SaleID.String())
		cat.Warnings = append(cat.Warnings, depErr)
		logger.Warn(ctx, "inventory name resolution failed, using placeholders",
			"sale_id", cat.SaleID,
			"items", len(itemIDs),
			"error", err,
		)
		return
	}

	for i := range cat.Items {
		if name, ok := names[cat.Items[i].InventoryItemID]; ok && name != "" {
			cat.Items[i].Name = name
			cat.Items[i].NameResolved = true
		}
	}
}
