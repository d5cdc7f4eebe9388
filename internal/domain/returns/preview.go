package returns

import (
	"fmt"
	"sort"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// PreviewItem is the projected outcome for one line.
type PreviewItem struct {
	LineItemID      id.ID       `json:"lineItemId"`
	InventoryItemID id.ID       `json:"inventoryItemId"`
	Name            string      `json:"name"`
	Disposition     Disposition `json:"disposition"`
	Quantity        int64       `json:"quantity"`
	Reason          string      `json:"reason"`
	ReplacementID   *id.ID      `json:"replacementId,omitempty"`
	ReplacementName string      `json:"replacementName,omitempty"`
	Valuation       Valuation   `json:"valuation"`
}

// PreviewResult is a read-only projection of what a commit would do.
type PreviewResult struct {
	SaleID     id.ID         `json:"saleId"`
	GSTPercent types.Percent `json:"gstPercent"`
	Items      []PreviewItem `json:"items"`
	Totals     Totals        `json:"totals"`
	// Total is refunds minus charges, the same figure a commit reports as
	// CommitResult.TotalValue.
	Total     types.Money `json:"total"`
	ItemCount int         `json:"itemCount"`
}

// GeneratePreview values a ready configuration set. It never writes and
// can be called any number of times.
func GeneratePreview(catalog *Catalog, set *ConfigurationSet) (*PreviewResult, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	configs := orderForCommit(set.Selected())
	res := &PreviewResult{
		SaleID:     catalog.SaleID,
		GSTPercent: catalog.GSTPercent,
		Items:      make([]PreviewItem, 0, len(configs)),
	}

	vals := make([]Valuation, 0, len(configs))
	for _, cfg := range configs {
		item, ok := catalog.Item(cfg.LineItemID)
		if !ok {
			return nil, fmt.Errorf("line %s missing from catalog", cfg.LineItemID)
		}

		var replPrice types.Money
		pi := PreviewItem{
			LineItemID:      item.ID,
			InventoryItemID: item.InventoryItemID,
			Name:            item.Name,
			Disposition:     cfg.Disposition,
			Quantity:        cfg.Quantity,
			Reason:          cfg.Reason,
		}
		if cfg.Replacement != nil {
			replID := cfg.Replacement.ID
			pi.ReplacementID = &replID
			pi.ReplacementName = cfg.Replacement.Name
			replPrice = cfg.Replacement.UnitCost
		}

		pi.Valuation = Valuate(cfg.Disposition, item.UnitPrice, replPrice, cfg.Quantity, catalog.GSTPercent)
		vals = append(vals, pi.Valuation)
		res.Items = append(res.Items, pi)
	}

	res.Totals = Aggregate(vals)
	res.Total = res.Totals.Net()
	res.ItemCount = len(res.Items)
	return res, nil
}

// orderForCommit puts return-to-stock and dispose lines before exchanges,
// keeping selection order within each group.
func orderForCommit(configs []ItemConfiguration) []ItemConfiguration {
	out := make([]ItemConfiguration, len(configs))
	copy(out, configs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Disposition.commitRank() < out[j].Disposition.commitRank()
	})
	return out
}
