package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
)

func addLine(t *testing.T, quoteID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/quotes/"+quoteID+"/lines", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handleAddQuoteLine(w, req, quoteID)
	return w
}

func quoteTotals(t *testing.T, quoteID string) (subtotal, discount, tax, total float64) {
	t.Helper()
	err := db.QueryRow("SELECT subtotal, discount_amount, tax_amount, total_amount FROM quotes WHERE id = ?", quoteID).
		Scan(&subtotal, &discount, &tax, &total)
	if err != nil {
		t.Fatalf("Failed to read quote totals: %v", err)
	}
	return
}

func TestQuoteRollup_KnownVector(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 10, 0.0625)

	// labor 2 x 50 = 100, material 3 x 10 = 30
	if w := addLine(t, "Q-1", `{"item_type":"labor","description":"Labor","qty":2,"unit_price":50}`); w.Code != 200 {
		t.Fatalf("add labor line: %d %s", w.Code, w.Body.String())
	}
	if w := addLine(t, "Q-1", `{"item_type":"material","description":"Material","qty":3,"unit_price":10}`); w.Code != 200 {
		t.Fatalf("add material line: %d %s", w.Code, w.Body.String())
	}

	subtotal, discount, tax, total := quoteTotals(t, "Q-1")
	if subtotal != 130 {
		t.Errorf("Expected subtotal 130, got %f", subtotal)
	}
	if discount != 13 {
		t.Errorf("Expected discount 13, got %f", discount)
	}
	// (130-13) * 0.0625 = 7.3125, stored rounded half-up
	if tax != 7.31 {
		t.Errorf("Expected tax 7.31, got %f", tax)
	}
	if total != 124.31 {
		t.Errorf("Expected total 124.31, got %f", total)
	}

	var labor, material float64
	db.QueryRow("SELECT labor_subtotal, material_subtotal FROM quotes WHERE id='Q-1'").Scan(&labor, &material)
	if labor != 100 || material != 30 {
		t.Errorf("Expected labor 100 / material 30, got %f / %f", labor, material)
	}
}

func TestQuoteRollup_LineDeleteRecomputes(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 0, 0)

	addLine(t, "Q-1", `{"item_type":"labor","qty":1,"unit_price":200}`)
	w := addLine(t, "Q-1", `{"item_type":"material","qty":4,"unit_price":25}`)
	var resp struct {
		Data struct {
			LineID int64 `json:"line_id"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	subtotal, _, _, _ := quoteTotals(t, "Q-1")
	if subtotal != 300 {
		t.Fatalf("Expected subtotal 300, got %f", subtotal)
	}

	req := httptest.NewRequest("DELETE", "/api/v1/quotes/Q-1/lines/0", nil)
	w2 := httptest.NewRecorder()
	handleDeleteQuoteLine(w2, req, "Q-1", fmt.Sprintf("%d", resp.Data.LineID))
	if w2.Code != 200 {
		t.Fatalf("delete line: got %d: %s", w2.Code, w2.Body.String())
	}

	subtotal, _, _, total := quoteTotals(t, "Q-1")
	if subtotal != 200 || total != 200 {
		t.Errorf("Expected 200/200 after line delete, got %f/%f", subtotal, total)
	}
}

func TestQuoteTiers_PremiumOnlyLine(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 0, 0)

	addLine(t, "Q-1", `{"item_type":"labor","qty":1,"unit_price":100}`)
	addLine(t, "Q-1", `{"item_type":"material","qty":1,"unit_price":500,"tier_basic":false,"tier_standard":false,"tier_premium":true}`)

	var basicTotal, premiumTotal float64
	if err := db.QueryRow("SELECT total_amount FROM quote_tiers WHERE quote_id='Q-1' AND tier='basic'").Scan(&basicTotal); err != nil {
		t.Fatalf("basic tier missing: %v", err)
	}
	if err := db.QueryRow("SELECT total_amount FROM quote_tiers WHERE quote_id='Q-1' AND tier='premium'").Scan(&premiumTotal); err != nil {
		t.Fatalf("premium tier missing: %v", err)
	}
	if basicTotal != 100 {
		t.Errorf("Expected basic tier 100, got %f", basicTotal)
	}
	if premiumTotal != 600 {
		t.Errorf("Expected premium tier 600, got %f", premiumTotal)
	}
}

func TestQuoteStatusTransitions(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 0, 0)

	setStatus := func(status string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/quotes/Q-1/status",
			bytes.NewBufferString(`{"status":"`+status+`"}`))
		w := httptest.NewRecorder()
		handleQuoteStatus(w, req, "Q-1")
		return w
	}

	// draft -> approved skips sent: rejected
	if w := setStatus("approved"); w.Code != 409 {
		t.Errorf("Expected 409 for draft->approved, got %d", w.Code)
	}
	if w := setStatus("sent"); w.Code != 200 {
		t.Errorf("Expected 200 for draft->sent, got %d: %s", w.Code, w.Body.String())
	}
	if w := setStatus("viewed"); w.Code != 200 {
		t.Errorf("Expected 200 for sent->viewed, got %d", w.Code)
	}
	if w := setStatus("approved"); w.Code != 200 {
		t.Errorf("Expected 200 for viewed->approved, got %d", w.Code)
	}
	// Backwards without admin: rejected
	if w := setStatus("draft"); w.Code != 409 {
		t.Errorf("Expected 409 for approved->draft, got %d", w.Code)
	}
}

func TestConvertQuote_CreatesWorkOrderOnce(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 0, 0.0625)
	createTestItem(t, db, "GFCI-1", 20, 0)

	addLine(t, "Q-1", `{"item_type":"labor","qty":4,"unit_price":95}`)
	addLine(t, "Q-1", `{"sku":"GFCI-1","item_type":"material","qty":4,"unit_price":32}`)
	db.Exec("UPDATE quotes SET status='approved' WHERE id='Q-1'")

	req := httptest.NewRequest("POST", "/api/v1/quotes/Q-1/convert", nil)
	w := httptest.NewRecorder()
	handleConvertQuote(w, req, "Q-1")
	if w.Code != 200 {
		t.Fatalf("convert: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			WorkOrderID string  `json:"work_order_id"`
			QuotedTotal float64 `json:"quoted_total"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.WorkOrderID == "" {
		t.Fatal("Expected a work order id")
	}

	var status string
	var woID string
	db.QueryRow("SELECT status, work_order_id FROM quotes WHERE id='Q-1'").Scan(&status, &woID)
	if status != "converted" || woID != resp.Data.WorkOrderID {
		t.Errorf("Quote not pinned to work order: %s %s", status, woID)
	}

	// Material lines with a SKU became the planned material list
	var planned int
	db.QueryRow("SELECT COUNT(*) FROM job_materials WHERE work_order_id = ? AND sku='GFCI-1' AND status='planned'",
		resp.Data.WorkOrderID).Scan(&planned)
	if planned != 1 {
		t.Errorf("Expected planned material row, got %d", planned)
	}

	// Second convert is a conflict, converted is immutable
	w = httptest.NewRecorder()
	handleConvertQuote(w, req, "Q-1")
	if w.Code != 409 {
		t.Errorf("Expected 409 on double convert, got %d", w.Code)
	}

	// No status change out of converted either
	req2 := httptest.NewRequest("POST", "/api/v1/quotes/Q-1/status", bytes.NewBufferString(`{"status":"draft"}`))
	w = httptest.NewRecorder()
	handleQuoteStatus(w, req2, "Q-1")
	if w.Code != 409 {
		t.Errorf("Expected 409 moving out of converted, got %d", w.Code)
	}

	// Lines frozen after conversion
	if w := addLine(t, "Q-1", `{"item_type":"labor","qty":1,"unit_price":10}`); w.Code != 409 {
		t.Errorf("Expected 409 adding line to converted quote, got %d", w.Code)
	}
}

func TestQuoteRateChangeRecomputes(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-1", "C-1", 0, 0)
	addLine(t, "Q-1", `{"item_type":"labor","qty":1,"unit_price":100}`)

	req := httptest.NewRequest("PUT", "/api/v1/quotes/Q-1",
		bytes.NewBufferString(`{"discount_percent":10,"tax_rate":0.05}`))
	w := httptest.NewRecorder()
	handleUpdateQuote(w, req, "Q-1")
	if w.Code != 200 {
		t.Fatalf("update: got %d: %s", w.Code, w.Body.String())
	}

	_, discount, tax, total := quoteTotals(t, "Q-1")
	if discount != 10 {
		t.Errorf("Expected discount 10, got %f", discount)
	}
	if tax != 4.5 {
		t.Errorf("Expected tax 4.50, got %f", tax)
	}
	if total != 94.5 {
		t.Errorf("Expected total 94.50, got %f", total)
	}
}
