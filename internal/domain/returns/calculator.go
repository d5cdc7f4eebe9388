package returns

import (
	"github.com/shopspring/decimal"

	"pharmapos/internal/core/types"
)

// Value is the GST-inclusive worth of a quantity at a unit price.
// Fields keep full precision; round with types.Display when presenting.
type Value struct {
	Subtotal  types.Money `json:"subtotal"`
	GSTAmount types.Money `json:"gstAmount"`
	Total     types.Money `json:"total"`
}

// Calculate computes subtotal = price x qty, gst = subtotal x pct/100 and
// total = subtotal + gst.
func Calculate(unitPrice types.Money, quantity int64, gstPercent types.Percent) Value {
	subtotal := unitPrice.Mul(decimal.NewFromInt(quantity))
	gst := subtotal.Mul(types.Rate(gstPercent))
	return Value{
		Subtotal:  subtotal,
		GSTAmount: gst,
		Total:     subtotal.Add(gst),
	}
}

// ExchangeValue holds both sides of an exchange.
// Net is replacement.Total - original.Total: positive is an extra charge to
// the customer, negative a refund.
type ExchangeValue struct {
	Original    Value       `json:"original"`
	Replacement Value       `json:"replacement"`
	Net         types.Money `json:"net"`
}

// CalculateExchange values the original line at its sold price and the
// replacement at its unit cost, both at the sale's GST rate.
func CalculateExchange(originalPrice, replacementPrice types.Money, quantity int64, gstPercent types.Percent) ExchangeValue {
	orig := Calculate(originalPrice, quantity, gstPercent)
	repl := Calculate(replacementPrice, quantity, gstPercent)
	return ExchangeValue{
		Original:    orig,
		Replacement: repl,
		Net:         repl.Total.Sub(orig.Total),
	}
}

// Valuation is the money effect of one configured line.
type Valuation struct {
	Disposition Disposition    `json:"disposition"`
	Quantity    int64          `json:"quantity"`
	Original    Value          `json:"original"`
	Exchange    *ExchangeValue `json:"exchange,omitempty"`
	// Owed is what the pharmacy owes the customer for this line: positive is
	// a refund, negative a charge.
	Owed types.Money `json:"owed"`
}

// Valuate values a single line. replacementPrice is ignored unless the
// disposition is exchange.
func Valuate(d Disposition, unitPrice, replacementPrice types.Money, quantity int64, gstPercent types.Percent) Valuation {
	v := Valuation{Disposition: d, Quantity: quantity}
	if d == DispositionExchange {
		ex := CalculateExchange(unitPrice, replacementPrice, quantity, gstPercent)
		v.Original = ex.Original
		v.Exchange = &ex
		v.Owed = ex.Net.Neg()
		return v
	}
	v.Original = Calculate(unitPrice, quantity, gstPercent)
	v.Owed = v.Original.Total
	return v
}

// Totals aggregates refunds and charges over several lines.
type Totals struct {
	Refund types.Money `json:"refund"`
	Charge types.Money `json:"charge"`
}

// Add folds one valuation into the totals.
func (t Totals) Add(v Valuation) Totals {
	if v.Owed.IsNegative() {
		t.Charge = t.Charge.Add(v.Owed.Neg())
	} else {
		t.Refund = t.Refund.Add(v.Owed)
	}
	return t
}

// Net is refund minus charge: what the customer receives overall.
func (t Totals) Net() types.Money {
	return t.Refund.Sub(t.Charge)
}

// Aggregate sums valuations.
func Aggregate(vals []Valuation) Totals {
	t := Totals{Refund: decimal.Zero, Charge: decimal.Zero}
	for _, v := range vals {
		t = t.Add(v)
	}
	return t
}
