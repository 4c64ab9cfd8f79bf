package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestCreateAndGetInventoryItem(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	body := `{"sku":"BRK-15A-1P","description":"15A single-pole breaker","category":"breakers","qty_on_hand":30,"min_stock":10,"unit_cost":4.10,"unit_price":11.00}`
	req := httptest.NewRequest("POST", "/api/v1/items", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handleCreateInventoryItem(w, req)
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/items/BRK-15A-1P", nil)
	w = httptest.NewRecorder()
	handleGetInventoryItem(w, req, "BRK-15A-1P")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Data InventoryItem `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Data.QtyOnHand != 30 {
		t.Errorf("Expected qty_on_hand 30, got %f", resp.Data.QtyOnHand)
	}
	if resp.Data.QtyAvailable != 30 {
		t.Errorf("Expected qty_available 30, got %f", resp.Data.QtyAvailable)
	}

	// Initial stock must show up in the movement log
	var moves int
	db.QueryRow("SELECT COUNT(*) FROM stock_moves WHERE sku='BRK-15A-1P' AND type='receive'").Scan(&moves)
	if moves != 1 {
		t.Errorf("Expected 1 receive move, got %d", moves)
	}
}

func TestCreateInventoryItem_DuplicateSKU(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "DUP-1", 10, 0)

	req := httptest.NewRequest("POST", "/api/v1/items", bytes.NewBufferString(`{"sku":"DUP-1"}`))
	w := httptest.NewRecorder()
	handleCreateInventoryItem(w, req)
	if w.Code != 409 {
		t.Errorf("Expected 409 for duplicate SKU, got %d", w.Code)
	}
}

func TestInventoryTransact_ReceiveAndAdjust(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "WIRE-1", 100, 0)

	req := httptest.NewRequest("POST", "/api/v1/items/WIRE-1/transact",
		bytes.NewBufferString(`{"type":"receive","qty":50,"reference":"PO-77"}`))
	w := httptest.NewRecorder()
	handleInventoryTransact(w, req, "WIRE-1")
	if w.Code != 200 {
		t.Fatalf("receive: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	onHand, _, _ := itemQuantities(t, db, "WIRE-1")
	if onHand != 150 {
		t.Errorf("Expected on hand 150 after receive, got %f", onHand)
	}

	// Cycle count down to 140
	req = httptest.NewRequest("POST", "/api/v1/items/WIRE-1/transact",
		bytes.NewBufferString(`{"type":"adjust","qty":140,"reference":"COUNT-1"}`))
	w = httptest.NewRecorder()
	handleInventoryTransact(w, req, "WIRE-1")
	if w.Code != 200 {
		t.Fatalf("adjust: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	onHand, _, _ = itemQuantities(t, db, "WIRE-1")
	if onHand != 140 {
		t.Errorf("Expected on hand 140 after adjust, got %f", onHand)
	}
}

func TestInventoryTransact_AdjustBelowAllocatedRejected(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "PNL-1", 10, 6)

	req := httptest.NewRequest("POST", "/api/v1/items/PNL-1/transact",
		bytes.NewBufferString(`{"type":"adjust","qty":4,"reference":"COUNT-2"}`))
	w := httptest.NewRecorder()
	handleInventoryTransact(w, req, "PNL-1")
	if w.Code != 409 {
		t.Fatalf("Expected 409 adjusting below allocated, got %d: %s", w.Code, w.Body.String())
	}
	onHand, allocated, _ := itemQuantities(t, db, "PNL-1")
	if onHand != 10 || allocated != 6 {
		t.Errorf("Quantities changed on rejected adjust: on_hand=%f allocated=%f", onHand, allocated)
	}
}

func TestListInventory_LowStockFilter(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	db.Exec(`INSERT INTO inventory_items (sku, qty_on_hand, qty_allocated, min_stock, updated_at) VALUES
		('LOW-1', 10, 8, 5, CURRENT_TIMESTAMP)`)
	db.Exec(`INSERT INTO inventory_items (sku, qty_on_hand, qty_allocated, min_stock, updated_at) VALUES
		('OK-1', 50, 0, 5, CURRENT_TIMESTAMP)`)

	req := httptest.NewRequest("GET", "/api/v1/items?low_stock=true", nil)
	w := httptest.NewRecorder()
	handleListInventory(w, req)

	var resp struct {
		Data []InventoryItem `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].SKU != "LOW-1" {
		t.Errorf("Expected only LOW-1 (available 2 <= min 5), got %+v", resp.Data)
	}
}

func TestDeactivateInventoryItem_BlockedWhileAllocated(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "BUSY-1", 10, 3)

	req := httptest.NewRequest("DELETE", "/api/v1/items/BUSY-1", nil)
	w := httptest.NewRecorder()
	handleDeactivateInventoryItem(w, req, "BUSY-1")
	if w.Code != 409 {
		t.Errorf("Expected 409 deactivating allocated item, got %d", w.Code)
	}

	db.Exec("UPDATE inventory_items SET qty_allocated = 0 WHERE sku = 'BUSY-1'")
	w = httptest.NewRecorder()
	handleDeactivateInventoryItem(w, req, "BUSY-1")
	if w.Code != 200 {
		t.Errorf("Expected 200 deactivating idle item, got %d", w.Code)
	}
	var active int
	db.QueryRow("SELECT active FROM inventory_items WHERE sku = 'BUSY-1'").Scan(&active)
	if active != 0 {
		t.Errorf("Expected item inactive after deactivation")
	}
}
