package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ecm/internal/rollup"
)

const quoteSelect = `SELECT id, customer_id, COALESCE(title,''), status, COALESCE(selected_tier,''),
	discount_percent, tax_rate, labor_subtotal, material_subtotal, other_charges,
	subtotal, discount_amount, tax_amount, total_amount, COALESCE(notes,''),
	COALESCE(valid_until,''), work_order_id, converted_at, created_at, updated_at FROM quotes`

func scanQuote(row interface{ Scan(...interface{}) error }, q *Quote) error {
	var workOrderID, convertedAt sql.NullString
	err := row.Scan(&q.ID, &q.CustomerID, &q.Title, &q.Status, &q.SelectedTier,
		&q.DiscountPercent, &q.TaxRate, &q.LaborSubtotal, &q.MaterialSubtotal, &q.OtherCharges,
		&q.Subtotal, &q.DiscountAmount, &q.TaxAmount, &q.TotalAmount, &q.Notes,
		&q.ValidUntil, &workOrderID, &convertedAt, &q.CreatedAt, &q.UpdatedAt)
	q.WorkOrderID = sp(workOrderID)
	q.ConvertedAt = sp(convertedAt)
	return err
}

// recalculateQuoteTotals keeps the rollup call in one place; seed and
// handlers both go through it.
func recalculateQuoteTotals(tx rollup.DBTX, quoteID string) (*rollup.Totals, error) {
	return rollup.Recalculate(tx, quoteID)
}

func touchQuote(tx rollup.DBTX, quoteID string) {
	tx.Exec("UPDATE quotes SET updated_at = ? WHERE id = ?",
		time.Now().Format("2006-01-02 15:04:05"), quoteID)
}

func handleListQuotes(w http.ResponseWriter, r *http.Request) {
	query := quoteSelect
	var conditions []string
	var args []interface{}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	if cust := r.URL.Query().Get("customer_id"); cust != "" {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, cust)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		scanQuote(rows, &q)
		quotes = append(quotes, q)
	}
	if quotes == nil { quotes = []Quote{} }
	jsonResp(w, quotes)
}

func handleGetQuote(w http.ResponseWriter, r *http.Request, id string) {
	var q Quote
	if err := scanQuote(db.QueryRow(quoteSelect+" WHERE id=?", id), &q); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	rows, err := db.Query(`SELECT id, quote_id, COALESCE(sku,''), COALESCE(description,''),
		item_type, qty, unit_price, tier_basic, tier_standard, tier_premium
		FROM quote_lines WHERE quote_id=? ORDER BY id`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()
	for rows.Next() {
		var l QuoteLine
		rows.Scan(&l.ID, &l.QuoteID, &l.SKU, &l.Description, &l.ItemType,
			&l.Qty, &l.UnitPrice, &l.TierBasic, &l.TierStandard, &l.TierPremium)
		q.Lines = append(q.Lines, l)
	}
	if q.Lines == nil { q.Lines = []QuoteLine{} }

	trows, err := db.Query(`SELECT quote_id, tier, subtotal, discount_amount, tax_amount, total_amount
		FROM quote_tiers WHERE quote_id=?
		ORDER BY CASE tier WHEN 'basic' THEN 0 WHEN 'standard' THEN 1 ELSE 2 END`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer trows.Close()
	for trows.Next() {
		var t QuoteTier
		trows.Scan(&t.QuoteID, &t.Tier, &t.Subtotal, &t.DiscountAmount, &t.TaxAmount, &t.TotalAmount)
		q.Tiers = append(q.Tiers, t)
	}
	if q.Tiers == nil { q.Tiers = []QuoteTier{} }

	jsonResp(w, q)
}

func handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var q Quote
	if err := decodeBody(r, &q); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "customer_id", q.CustomerID)
	validateForeignKey(ve, "customer_id", "customers", q.CustomerID)
	validateRange(ve, "discount_percent", q.DiscountPercent, 0, 100)
	validateNonNegativeFloat(ve, "tax_rate", q.TaxRate)
	validateDate(ve, "valid_until", q.ValidUntil)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	if q.TaxRate == 0 {
		q.TaxRate = appConfig.DefaultTaxRate
	}
	if q.ValidUntil == "" {
		q.ValidUntil = time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	}

	q.ID = nextID("Q", "quotes", 3)
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := db.Exec(`INSERT INTO quotes (id, customer_id, title, status, discount_percent, tax_rate, notes, valid_until, created_at, updated_at)
		VALUES (?,?,?,'draft',?,?,?,?,?,?)`,
		q.ID, q.CustomerID, q.Title, q.DiscountPercent, q.TaxRate, q.Notes, q.ValidUntil, now, now)
	if err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionCreate, "quotes", q.ID, "Created quote "+q.ID)
	broadcast("quotes", "create", q.ID)
	handleGetQuote(w, r, q.ID)
}

func handleUpdateQuote(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Title           *string  `json:"title"`
		Notes           *string  `json:"notes"`
		ValidUntil      *string  `json:"valid_until"`
		DiscountPercent *float64 `json:"discount_percent"`
		TaxRate         *float64 `json:"tax_rate"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	var status string
	if err := db.QueryRow("SELECT status FROM quotes WHERE id=?", id).Scan(&status); err != nil {
		jsonErr(w, "not found", 404)
		return
	}
	if status == "converted" {
		jsonErr(w, rollup.ErrAlreadyConverted.Error(), 409)
		return
	}

	ve := &ValidationErrors{}
	if req.DiscountPercent != nil {
		validateRange(ve, "discount_percent", *req.DiscountPercent, 0, 100)
	}
	if req.TaxRate != nil {
		validateNonNegativeFloat(ve, "tax_rate", *req.TaxRate)
	}
	if req.ValidUntil != nil {
		validateDate(ve, "valid_until", *req.ValidUntil)
	}
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	if req.Title != nil { tx.Exec("UPDATE quotes SET title = ? WHERE id = ?", *req.Title, id) }
	if req.Notes != nil { tx.Exec("UPDATE quotes SET notes = ? WHERE id = ?", *req.Notes, id) }
	if req.ValidUntil != nil { tx.Exec("UPDATE quotes SET valid_until = ? WHERE id = ?", *req.ValidUntil, id) }
	if req.DiscountPercent != nil { tx.Exec("UPDATE quotes SET discount_percent = ? WHERE id = ?", *req.DiscountPercent, id) }
	if req.TaxRate != nil { tx.Exec("UPDATE quotes SET tax_rate = ? WHERE id = ?", *req.TaxRate, id) }

	// Rate changes make the stored totals stale; recompute before commit.
	if req.DiscountPercent != nil || req.TaxRate != nil {
		if _, err := recalculateQuoteTotals(tx, id); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	}
	touchQuote(tx, id)
	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", id, "Updated quote")
	broadcast("quotes", "update", id)
	handleGetQuote(w, r, id)
}

func handleDeleteQuote(w http.ResponseWriter, r *http.Request, id string) {
	var status string
	if err := db.QueryRow("SELECT status FROM quotes WHERE id=?", id).Scan(&status); err != nil {
		jsonErr(w, "not found", 404)
		return
	}
	if status != "draft" {
		jsonErr(w, "only draft quotes can be deleted", 409)
		return
	}
	if _, err := db.Exec("DELETE FROM quotes WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	logAudit(db, getUsername(r), AuditActionDelete, "quotes", id, "Deleted quote "+id)
	broadcast("quotes", "delete", id)
	jsonResp(w, map[string]string{"status": "ok"})
}

var lineItemTypes = []string{"labor", "material", "other"}

// editableQuote loads a quote's status for line mutations and rejects
// converted ones. Lines stay editable in other states so revisions don't
// require cloning the quote.
func editableQuote(w http.ResponseWriter, id string) bool {
	var status string
	if err := db.QueryRow("SELECT status FROM quotes WHERE id=?", id).Scan(&status); err != nil {
		jsonErr(w, "quote not found", 404)
		return false
	}
	if status == "converted" {
		jsonErr(w, rollup.ErrAlreadyConverted.Error(), 409)
		return false
	}
	return true
}

func handleAddQuoteLine(w http.ResponseWriter, r *http.Request, quoteID string) {
	var l QuoteLine
	// Tier flags default to all tiers when the body omits them.
	l.TierBasic, l.TierStandard, l.TierPremium = true, true, true
	if err := decodeBody(r, &l); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	validateEnum(ve, "item_type", l.ItemType, lineItemTypes)
	validatePositiveFloat(ve, "qty", l.Qty)
	validateNonNegativeFloat(ve, "unit_price", l.UnitPrice)
	validateSKU(ve, "sku", l.SKU)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }
	if l.ItemType == "" {
		l.ItemType = "material"
	}

	if !editableQuote(w, quoteID) {
		return
	}

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO quote_lines
		(quote_id, sku, description, item_type, qty, unit_price, tier_basic, tier_standard, tier_premium)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		quoteID, l.SKU, l.Description, l.ItemType, l.Qty, l.UnitPrice, l.TierBasic, l.TierStandard, l.TierPremium)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	lineID, _ := res.LastInsertId()

	totals, err := recalculateQuoteTotals(tx, quoteID)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	touchQuote(tx, quoteID)
	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", quoteID,
		fmt.Sprintf("Added line %d (%s)", lineID, l.ItemType))
	broadcast("quotes", "update", quoteID)
	jsonResp(w, map[string]interface{}{"line_id": lineID, "totals": totals})
}

func handleUpdateQuoteLine(w http.ResponseWriter, r *http.Request, quoteID, lineIDStr string) {
	lineID, err := strconv.Atoi(lineIDStr)
	if err != nil { jsonErr(w, "invalid line id", 400); return }

	var req struct {
		Description  *string  `json:"description"`
		ItemType     *string  `json:"item_type"`
		Qty          *float64 `json:"qty"`
		UnitPrice    *float64 `json:"unit_price"`
		TierBasic    *bool    `json:"tier_basic"`
		TierStandard *bool    `json:"tier_standard"`
		TierPremium  *bool    `json:"tier_premium"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	if req.ItemType != nil {
		validateEnum(ve, "item_type", *req.ItemType, lineItemTypes)
	}
	if req.Qty != nil {
		validatePositiveFloat(ve, "qty", *req.Qty)
	}
	if req.UnitPrice != nil {
		validateNonNegativeFloat(ve, "unit_price", *req.UnitPrice)
	}
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	if !editableQuote(w, quoteID) {
		return
	}

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	var exists int
	tx.QueryRow("SELECT COUNT(*) FROM quote_lines WHERE id = ? AND quote_id = ?", lineID, quoteID).Scan(&exists)
	if exists == 0 {
		jsonErr(w, "line not found", 404)
		return
	}

	if req.Description != nil { tx.Exec("UPDATE quote_lines SET description = ? WHERE id = ?", *req.Description, lineID) }
	if req.ItemType != nil { tx.Exec("UPDATE quote_lines SET item_type = ? WHERE id = ?", *req.ItemType, lineID) }
	if req.Qty != nil { tx.Exec("UPDATE quote_lines SET qty = ? WHERE id = ?", *req.Qty, lineID) }
	if req.UnitPrice != nil { tx.Exec("UPDATE quote_lines SET unit_price = ? WHERE id = ?", *req.UnitPrice, lineID) }
	if req.TierBasic != nil { tx.Exec("UPDATE quote_lines SET tier_basic = ? WHERE id = ?", *req.TierBasic, lineID) }
	if req.TierStandard != nil { tx.Exec("UPDATE quote_lines SET tier_standard = ? WHERE id = ?", *req.TierStandard, lineID) }
	if req.TierPremium != nil { tx.Exec("UPDATE quote_lines SET tier_premium = ? WHERE id = ?", *req.TierPremium, lineID) }

	totals, err := recalculateQuoteTotals(tx, quoteID)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	touchQuote(tx, quoteID)
	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", quoteID, fmt.Sprintf("Updated line %d", lineID))
	broadcast("quotes", "update", quoteID)
	jsonResp(w, map[string]interface{}{"totals": totals})
}

func handleDeleteQuoteLine(w http.ResponseWriter, r *http.Request, quoteID, lineIDStr string) {
	lineID, err := strconv.Atoi(lineIDStr)
	if err != nil { jsonErr(w, "invalid line id", 400); return }

	if !editableQuote(w, quoteID) {
		return
	}

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM quote_lines WHERE id = ? AND quote_id = ?", lineID, quoteID)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "line not found", 404)
		return
	}

	totals, err := recalculateQuoteTotals(tx, quoteID)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	touchQuote(tx, quoteID)
	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", quoteID, fmt.Sprintf("Deleted line %d", lineID))
	broadcast("quotes", "update", quoteID)
	jsonResp(w, map[string]interface{}{"totals": totals})
}

func handleQuoteStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	var current string
	if err := db.QueryRow("SELECT status FROM quotes WHERE id=?", id).Scan(&current); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	if req.Status == "converted" {
		jsonErr(w, "use the convert endpoint to convert a quote", 400)
		return
	}
	if !rollup.ValidTransition(current, req.Status, isAdmin(r)) {
		if current == "converted" {
			jsonErr(w, rollup.ErrAlreadyConverted.Error(), 409)
			return
		}
		jsonErr(w, fmt.Sprintf("%s: %s -> %s", rollup.ErrInvalidTransition.Error(), current, req.Status), 409)
		return
	}

	db.Exec("UPDATE quotes SET status = ?, updated_at = ? WHERE id = ?",
		req.Status, time.Now().Format("2006-01-02 15:04:05"), id)

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", id,
		fmt.Sprintf("Status %s -> %s", current, req.Status))
	broadcast("quotes", "update", id)
	handleGetQuote(w, r, id)
}

// handleSelectQuoteTier records which tier the customer picked and copies
// that tier's totals onto the quote header.
func handleSelectQuoteTier(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Tier string `json:"tier"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "tier", req.Tier)
	validateEnum(ve, "tier", req.Tier, rollup.Tiers)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	if !editableQuote(w, id) {
		return
	}

	var t QuoteTier
	err := db.QueryRow(`SELECT quote_id, tier, subtotal, discount_amount, tax_amount, total_amount
		FROM quote_tiers WHERE quote_id = ? AND tier = ?`, id, req.Tier).
		Scan(&t.QuoteID, &t.Tier, &t.Subtotal, &t.DiscountAmount, &t.TaxAmount, &t.TotalAmount)
	if err != nil {
		jsonErr(w, fmt.Sprintf("tier %s has no lines on quote %s", req.Tier, id), 404)
		return
	}

	db.Exec("UPDATE quotes SET selected_tier = ?, updated_at = ? WHERE id = ?",
		req.Tier, time.Now().Format("2006-01-02 15:04:05"), id)

	logAudit(db, getUsername(r), AuditActionUpdate, "quotes", id, "Selected tier "+req.Tier)
	broadcast("quotes", "update", id)
	jsonResp(w, t)
}

// handleConvertQuote turns an approved quote into a work order. The quote's
// final total is whichever tier the customer selected, or the full quote
// totals when no tier was picked. Conversion is one-way: the created work
// order id and timestamp pin the quote permanently.
func handleConvertQuote(w http.ResponseWriter, r *http.Request, id string) {
	var q Quote
	if err := scanQuote(db.QueryRow(quoteSelect+" WHERE id=?", id), &q); err != nil {
		jsonErr(w, "not found", 404)
		return
	}
	if q.Status == "converted" {
		jsonErr(w, rollup.ErrAlreadyConverted.Error(), 409)
		return
	}
	if !rollup.ValidTransition(q.Status, "converted", isAdmin(r)) {
		jsonErr(w, fmt.Sprintf("%s: %s -> converted", rollup.ErrInvalidTransition.Error(), q.Status), 409)
		return
	}

	quotedTotal := q.TotalAmount
	if q.SelectedTier != "" {
		var tierTotal float64
		err := db.QueryRow("SELECT total_amount FROM quote_tiers WHERE quote_id = ? AND tier = ?",
			id, q.SelectedTier).Scan(&tierTotal)
		if err == nil {
			quotedTotal = tierTotal
		}
	}

	woID := nextID("WO", "work_orders", 4)
	now := time.Now().Format("2006-01-02 15:04:05")

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	// Guarded update: only one conversion can win if two requests race.
	res, err := tx.Exec(`UPDATE quotes SET status = 'converted', work_order_id = ?, converted_at = ?, updated_at = ?
		WHERE id = ? AND status != 'converted'`, woID, now, now, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, rollup.ErrAlreadyConverted.Error(), 409)
		return
	}

	title := q.Title
	if title == "" {
		title = "Work from quote " + id
	}
	_, err = tx.Exec(`INSERT INTO work_orders (id, customer_id, quote_id, title, status, quoted_total, created_at)
		VALUES (?,?,?,?,'draft',?,?)`, woID, q.CustomerID, id, title, quotedTotal, now)
	if err != nil { jsonErr(w, err.Error(), 500); return }

	// Material lines with a SKU become the planned material list.
	rows, err := tx.Query(`SELECT sku, qty, unit_price FROM quote_lines
		WHERE quote_id = ? AND item_type = 'material' AND sku != ''`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	type planned struct {
		sku   string
		qty   float64
		price float64
	}
	var plan []planned
	for rows.Next() {
		var p planned
		rows.Scan(&p.sku, &p.qty, &p.price)
		plan = append(plan, p)
	}
	rows.Close()
	for _, p := range plan {
		var cost float64
		tx.QueryRow("SELECT unit_cost FROM inventory_items WHERE sku = ?", p.sku).Scan(&cost)
		_, err = tx.Exec(`INSERT INTO job_materials
			(work_order_id, sku, qty_needed, status, unit_cost, unit_price, created_at, updated_at)
			VALUES (?,?,?,'planned',?,?,?,?)`, woID, p.sku, p.qty, cost, p.price, now, now)
		if err != nil { jsonErr(w, err.Error(), 500); return }
	}

	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionConvert, "quotes", id, "Converted to "+woID)
	broadcast("quotes", "update", id)
	broadcast("workorders", "create", woID)
	jsonResp(w, map[string]interface{}{"quote_id": id, "work_order_id": woID, "quoted_total": quotedTotal})
}

// handleQuoteCost estimates cost and margin from current catalog costs for
// material lines plus a configurable labor cost fraction.
func handleQuoteCost(w http.ResponseWriter, r *http.Request, id string) {
	var q Quote
	if err := scanQuote(db.QueryRow(quoteSelect+" WHERE id=?", id), &q); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	var materialCost float64
	db.QueryRow(`SELECT COALESCE(SUM(ql.qty * i.unit_cost), 0)
		FROM quote_lines ql JOIN inventory_items i ON i.sku = ql.sku
		WHERE ql.quote_id = ? AND ql.item_type = 'material' AND ql.sku != ''`, id).Scan(&materialCost)

	jsonResp(w, map[string]interface{}{
		"quote_id":       id,
		"total_amount":   q.TotalAmount,
		"material_cost":  materialCost,
		"material_price": q.MaterialSubtotal,
		"margin_pct":     rollup.MarginPct(q.MaterialSubtotal, materialCost),
	})
}

// handleExpireQuotes marks sent or viewed quotes past their valid-until
// date as expired. Called from the notification sweep and exposed for
// manual runs.
func handleExpireQuotes(w http.ResponseWriter, r *http.Request) {
	n := expireStaleQuotes()
	jsonResp(w, map[string]interface{}{"expired": n})
}

func expireStaleQuotes() int64 {
	res, err := db.Exec(`UPDATE quotes SET status = 'expired', updated_at = ?
		WHERE status IN ('sent','viewed') AND valid_until < date('now')`,
		time.Now().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		broadcast("quotes", "update", "expired")
	}
	return n
}
