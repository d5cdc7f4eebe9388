package returns

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
)

// DefaultMinReasonLength is the shortest reason accepted before preview.
const DefaultMinReasonLength = 1

// ItemConfiguration is the operator's choice for one selected line.
// It lives only in the session; committed lines persist as ledger entries.
type ItemConfiguration struct {
	LineItemID  id.ID
	Quantity    int64
	Disposition Disposition
	Reason      string
	// Replacement is the exchange target as seen at configure time.
	Replacement *InventoryItem

	configured bool
}

// Configured reports whether Configure succeeded for the line.
func (c ItemConfiguration) Configured() bool {
	return c.configured
}

// ConfigureInput carries the fields of a configure call.
type ConfigureInput struct {
	Quantity    int64
	Disposition Disposition
	Reason      string
	Replacement *InventoryItem
}

// ClampWarning is reported when a requested quantity exceeded what is left
// and was reduced.
type ClampWarning struct {
	LineItemID id.ID `json:"lineItemId"`
	Requested  int64 `json:"requested"`
	Applied    int64 `json:"applied"`
}

func (w ClampWarning) String() string {
	return fmt.Sprintf("line %s: requested %d, only %d left to return", w.LineItemID, w.Requested, w.Applied)
}

// ConfigurationSet maps selected line items to their configuration.
type ConfigurationSet struct {
	catalog         *Catalog
	minReasonLength int
	order           []id.ID
	items           map[id.ID]*ItemConfiguration
}

// NewConfigurationSet creates an empty set over catalog.
func NewConfigurationSet(catalog *Catalog, minReasonLength int) *ConfigurationSet {
	if minReasonLength < DefaultMinReasonLength {
		minReasonLength = DefaultMinReasonLength
	}
	return &ConfigurationSet{
		catalog:         catalog,
		minReasonLength: minReasonLength,
		items:           make(map[id.ID]*ItemConfiguration),
	}
}

// Select adds a returnable line to the set. Selecting twice is a no-op.
func (s *ConfigurationSet) Select(lineItemID id.ID) error {
	if _, ok := s.catalog.Item(lineItemID); !ok {
		return apperror.NewFieldValidation("line_item_id", "item is not part of the sale or has nothing left to return").
			WithDetail("line_item_id", lineItemID.String())
	}
	if _, ok := s.items[lineItemID]; ok {
		return nil
	}
	s.items[lineItemID] = &ItemConfiguration{LineItemID: lineItemID}
	s.order = append(s.order, lineItemID)
	return nil
}

// Deselect drops a line and its configuration.
func (s *ConfigurationSet) Deselect(lineItemID id.ID) {
	if _, ok := s.items[lineItemID]; !ok {
		return
	}
	delete(s.items, lineItemID)
	for i, v := range s.order {
		if v == lineItemID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Configure validates and stores the configuration for a line, selecting it
// if needed. A quantity above what is left is clamped and reported; zero or
// negative quantities are rejected. On error the previous configuration is
// kept.
func (s *ConfigurationSet) Configure(lineItemID id.ID, in ConfigureInput) (*ClampWarning, error) {
	item, ok := s.catalog.Item(lineItemID)
	if !ok {
		return nil, apperror.NewFieldValidation("line_item_id", "item is not part of the sale or has nothing left to return").
			WithDetail("line_item_id", lineItemID.String())
	}

	if !in.Disposition.Valid() {
		return nil, apperror.NewFieldValidation("disposition", "unknown disposition").
			WithDetail("disposition", string(in.Disposition))
	}
	if in.Quantity <= 0 {
		return nil, apperror.NewFieldValidation("quantity", "quantity must be a positive whole number").
			WithDetail("line_item_id", lineItemID.String()).
			WithDetail("quantity", in.Quantity)
	}

	if in.Disposition == DispositionExchange {
		if err := checkReplacement(item, in.Replacement); err != nil {
			return nil, err
		}
	}

	var warning *ClampWarning
	qty := in.Quantity
	if qty > item.Remaining {
		warning = &ClampWarning{LineItemID: lineItemID, Requested: qty, Applied: item.Remaining}
		qty = item.Remaining
	}

	if err := s.Select(lineItemID); err != nil {
		return nil, err
	}
	cfg := s.items[lineItemID]
	cfg.Quantity = qty
	cfg.Disposition = in.Disposition
	cfg.Reason = strings.TrimSpace(in.Reason)
	cfg.Replacement = nil
	if in.Disposition == DispositionExchange {
		repl := *in.Replacement
		cfg.Replacement = &repl
	}
	cfg.configured = true

	return warning, nil
}

func checkReplacement(item CatalogItem, repl *InventoryItem) error {
	if repl == nil || id.IsNil(repl.ID) {
		return apperror.NewFieldValidation("replacement", "exchange requires a replacement item")
	}
	if repl.ID == item.InventoryItemID {
		return apperror.NewFieldValidation("replacement", "replacement must differ from the returned item").
			WithDetail("inventory_item_id", repl.ID.String())
	}
	if repl.OnHandQuantity <= 0 {
		return apperror.NewInsufficientStock(repl.ID.String(), 1, repl.OnHandQuantity).
			WithField("replacement", "replacement item is out of stock")
	}
	return nil
}

// Selected returns the configurations in selection order.
func (s *ConfigurationSet) Selected() []ItemConfiguration {
	out := make([]ItemConfiguration, 0, len(s.order))
	for _, lineID := range s.order {
		out = append(out, *s.items[lineID])
	}
	return out
}

// Len is the number of selected lines.
func (s *ConfigurationSet) Len() int {
	return len(s.order)
}

// Validate reports every problem that keeps the set from being previewed.
func (s *ConfigurationSet) Validate() error {
	if len(s.order) == 0 {
		return apperror.NewFieldValidation("items", "select at least one item to return")
	}

	var verr *apperror.AppError
	add := func(field, msg string) {
		if verr == nil {
			verr = apperror.NewValidation("return configuration is incomplete")
		}
		verr.WithField(field, msg)
	}

	for i, lineID := range s.order {
		cfg := s.items[lineID]
		prefix := fmt.Sprintf("items[%d].", i)
		if !cfg.configured {
			add(prefix+"quantity", "item is selected but not configured")
			continue
		}
		if utf8.RuneCountInString(cfg.Reason) < s.minReasonLength {
			add(prefix+"reason", fmt.Sprintf("reason must be at least %d characters", s.minReasonLength))
		}
	}

	if verr != nil {
		return verr
	}
	return nil
}

// IsReady is true when at least one line is selected and every selected
// line has a valid configuration.
func (s *ConfigurationSet) IsReady() bool {
	return s.Validate() == nil
}
