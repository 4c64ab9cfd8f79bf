// Package rollup keeps quote monetary aggregates consistent with their
// line items. Recalculate runs inside the same transaction as the line
// mutation that triggered it, so a quote with stale totals is never
// observable. Money math uses decimals throughout; rounding to two places
// happens only on the final stored values.
package rollup

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransition means the requested quote status change is not
	// allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyConverted guards the immutable converted state.
	ErrAlreadyConverted = errors.New("quote already converted")
)

// Tiers in display order.
var Tiers = []string{"basic", "standard", "premium"}

// DBTX is satisfied by both *sql.DB and *sql.Tx so callers can run the
// recalculation inside their own transaction.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Line is the subset of a quote line the rollup needs.
type Line struct {
	ItemType     string
	Qty          float64
	UnitPrice    float64
	TierBasic    bool
	TierStandard bool
	TierPremium  bool
}

// Totals are the aggregate monetary fields of a quote (or one tier of it),
// rounded half-up to two decimal places.
type Totals struct {
	LaborSubtotal    float64 `json:"labor_subtotal"`
	MaterialSubtotal float64 `json:"material_subtotal"`
	OtherCharges     float64 `json:"other_charges"`
	Subtotal         float64 `json:"subtotal"`
	DiscountAmount   float64 `json:"discount_amount"`
	TaxAmount        float64 `json:"tax_amount"`
	TotalAmount      float64 `json:"total_amount"`
}

// round2 rounds half away from zero at two places, i.e. half-up for the
// non-negative amounts handled here.
func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Compute derives the totals for a set of lines. Intermediate sums stay
// unrounded; each stored field is rounded once at the end, so repeated
// recomputation cannot accumulate drift.
func Compute(lines []Line, discountPercent, taxRate float64) Totals {
	labor := decimal.Zero
	material := decimal.Zero
	other := decimal.Zero

	for _, l := range lines {
		ext := decimal.NewFromFloat(l.Qty).Mul(decimal.NewFromFloat(l.UnitPrice))
		switch l.ItemType {
		case "labor":
			labor = labor.Add(ext)
		case "material":
			material = material.Add(ext)
		default:
			other = other.Add(ext)
		}
	}

	subtotal := labor.Add(material).Add(other)
	discount := subtotal.Mul(decimal.NewFromFloat(discountPercent)).Div(decimal.NewFromInt(100))
	tax := subtotal.Sub(discount).Mul(decimal.NewFromFloat(taxRate))
	total := subtotal.Sub(discount).Add(tax)

	return Totals{
		LaborSubtotal:    round2(labor),
		MaterialSubtotal: round2(material),
		OtherCharges:     round2(other),
		Subtotal:         round2(subtotal),
		DiscountAmount:   round2(discount),
		TaxAmount:        round2(tax),
		TotalAmount:      round2(total),
	}
}

// filterTier returns the lines flagged for a tier.
func filterTier(lines []Line, tier string) []Line {
	var out []Line
	for _, l := range lines {
		switch tier {
		case "basic":
			if l.TierBasic {
				out = append(out, l)
			}
		case "standard":
			if l.TierStandard {
				out = append(out, l)
			}
		case "premium":
			if l.TierPremium {
				out = append(out, l)
			}
		}
	}
	return out
}

// Recalculate reloads a quote's lines, recomputes the quote totals and the
// per-tier totals, and writes them back. It must be called on the same
// transaction as the line mutation that made the totals stale.
func Recalculate(tx DBTX, quoteID string) (*Totals, error) {
	var discountPercent, taxRate float64
	err := tx.QueryRow("SELECT discount_percent, tax_rate FROM quotes WHERE id=?", quoteID).
		Scan(&discountPercent, &taxRate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("quote %s not found", quoteID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`SELECT item_type, qty, unit_price, tier_basic, tier_standard, tier_premium
		FROM quote_lines WHERE quote_id=?`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ItemType, &l.Qty, &l.UnitPrice, &l.TierBasic, &l.TierStandard, &l.TierPremium); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t := Compute(lines, discountPercent, taxRate)
	_, err = tx.Exec(`UPDATE quotes SET
		labor_subtotal=?, material_subtotal=?, other_charges=?,
		subtotal=?, discount_amount=?, tax_amount=?, total_amount=?
		WHERE id=?`,
		t.LaborSubtotal, t.MaterialSubtotal, t.OtherCharges,
		t.Subtotal, t.DiscountAmount, t.TaxAmount, t.TotalAmount, quoteID)
	if err != nil {
		return nil, err
	}

	// Tier rows are rewritten wholesale; a deleted line leaves no residue.
	if _, err := tx.Exec("DELETE FROM quote_tiers WHERE quote_id=?", quoteID); err != nil {
		return nil, err
	}
	for _, tier := range Tiers {
		tl := filterTier(lines, tier)
		if len(tl) == 0 {
			continue
		}
		tt := Compute(tl, discountPercent, taxRate)
		_, err := tx.Exec(`INSERT INTO quote_tiers
			(quote_id, tier, subtotal, discount_amount, tax_amount, total_amount)
			VALUES (?,?,?,?,?,?)`,
			quoteID, tier, tt.Subtotal, tt.DiscountAmount, tt.TaxAmount, tt.TotalAmount)
		if err != nil {
			return nil, err
		}
	}

	return &t, nil
}

// quoteTransitions is the one-way quote lifecycle. Terminal states have no
// exits.
var quoteTransitions = map[string][]string{
	"draft":     {"sent"},
	"sent":      {"viewed", "approved", "declined", "expired"},
	"viewed":    {"approved", "declined", "expired"},
	"approved":  {"converted", "expired"},
	"declined":  {},
	"converted": {},
	"expired":   {},
}

// ValidTransition reports whether a quote may move from one status to
// another. Admin override bypasses the one-way rule everywhere except out
// of converted, which is immutable.
func ValidTransition(from, to string, adminOverride bool) bool {
	if from == to {
		return false
	}
	if from == "converted" {
		return false
	}
	if adminOverride {
		_, known := quoteTransitions[to]
		return known
	}
	allowed, ok := quoteTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// MarginPct returns the margin percentage for a total against a cost,
// rounded to two places. A zero total yields 0 rather than a division
// error.
func MarginPct(total, cost float64) float64 {
	if total == 0 {
		return 0
	}
	t := decimal.NewFromFloat(total)
	m := t.Sub(decimal.NewFromFloat(cost)).Div(t).Mul(decimal.NewFromInt(100))
	return round2(m)
}
