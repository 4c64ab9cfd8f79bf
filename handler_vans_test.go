package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestVanTransfer_Success(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "RCP-1", 50, 0)
	vanID := createTestVan(t, db, "Van 1")

	req := httptest.NewRequest("POST", "/api/v1/vans/1/transfer",
		bytes.NewBufferString(`{"sku":"RCP-1","qty":20}`))
	w := httptest.NewRecorder()
	handleVanTransfer(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	onHand, _, _ := itemQuantities(t, db, "RCP-1")
	if onHand != 30 {
		t.Errorf("Expected warehouse on hand 30, got %f", onHand)
	}

	var vanQty float64
	db.QueryRow("SELECT qty FROM van_inventory WHERE van_id = ? AND sku = 'RCP-1'", vanID).Scan(&vanQty)
	if vanQty != 20 {
		t.Errorf("Expected van qty 20, got %f", vanQty)
	}

	// Second transfer accumulates
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/v1/vans/1/transfer",
		bytes.NewBufferString(`{"sku":"RCP-1","qty":5}`))
	handleVanTransfer(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 200 {
		t.Fatalf("Second transfer: got %d", w.Code)
	}
	db.QueryRow("SELECT qty FROM van_inventory WHERE van_id = ? AND sku = 'RCP-1'", vanID).Scan(&vanQty)
	if vanQty != 25 {
		t.Errorf("Expected van qty 25, got %f", vanQty)
	}
}

func TestVanTransfer_InsufficientLeavesBothSidesUnchanged(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	// 10 on hand but 8 allocated to jobs: only 2 transferable
	createTestItem(t, db, "GFCI-1", 10, 8)
	vanID := createTestVan(t, db, "Van 1")

	req := httptest.NewRequest("POST", "/api/v1/vans/1/transfer",
		bytes.NewBufferString(`{"sku":"GFCI-1","qty":5}`))
	w := httptest.NewRecorder()
	handleVanTransfer(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 409 {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	onHand, allocated, _ := itemQuantities(t, db, "GFCI-1")
	if onHand != 10 || allocated != 8 {
		t.Errorf("Warehouse changed on failed transfer: %f/%f", onHand, allocated)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM van_inventory WHERE van_id = ?", vanID).Scan(&count)
	if count != 0 {
		t.Errorf("Van credited on failed transfer")
	}
}

func TestVanTransfer_InactiveVan(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "X-1", 10, 0)
	vanID := createTestVan(t, db, "Old Van")
	db.Exec("UPDATE vans SET active = 0 WHERE id = ?", vanID)

	req := httptest.NewRequest("POST", "/api/v1/vans/1/transfer",
		bytes.NewBufferString(`{"sku":"X-1","qty":5}`))
	w := httptest.NewRecorder()
	handleVanTransfer(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 404 {
		t.Errorf("Expected 404 for inactive van, got %d", w.Code)
	}
}

func TestVanUse_DecrementsVanOnly(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "WIRE-1", 100, 0)
	vanID := createTestVan(t, db, "Van 1")
	db.Exec("INSERT INTO van_inventory (van_id, sku, qty, updated_at) VALUES (?, 'WIRE-1', 30, CURRENT_TIMESTAMP)", vanID)

	req := httptest.NewRequest("POST", "/api/v1/vans/1/use",
		bytes.NewBufferString(`{"sku":"WIRE-1","qty":12,"reference":"WO-5"}`))
	w := httptest.NewRecorder()
	handleVanUse(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var vanQty float64
	db.QueryRow("SELECT qty FROM van_inventory WHERE van_id = ? AND sku = 'WIRE-1'", vanID).Scan(&vanQty)
	if vanQty != 18 {
		t.Errorf("Expected van qty 18, got %f", vanQty)
	}
	// Warehouse untouched
	onHand, _, _ := itemQuantities(t, db, "WIRE-1")
	if onHand != 100 {
		t.Errorf("Warehouse touched by van use: %f", onHand)
	}

	// Using more than the van holds fails
	req = httptest.NewRequest("POST", "/api/v1/vans/1/use",
		bytes.NewBufferString(`{"sku":"WIRE-1","qty":50}`))
	w = httptest.NewRecorder()
	handleVanUse(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 409 {
		t.Errorf("Expected 409 overdrawing van, got %d", w.Code)
	}
}

func TestVanRestock_ListsShortfalls(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "RCP-1", 100, 10)
	createTestItem(t, db, "BRK-1", 40, 0)
	vanID := createTestVan(t, db, "Van 1")
	db.Exec("INSERT INTO van_inventory (van_id, sku, qty, min_qty, updated_at) VALUES (?, 'RCP-1', 3, 10, CURRENT_TIMESTAMP)", vanID)
	db.Exec("INSERT INTO van_inventory (van_id, sku, qty, min_qty, updated_at) VALUES (?, 'BRK-1', 12, 10, CURRENT_TIMESTAMP)", vanID)

	req := httptest.NewRequest("GET", "/api/v1/vans/1/restock", nil)
	w := httptest.NewRecorder()
	handleVanRestock(w, req, fmt.Sprintf("%d", vanID))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []struct {
			SKU                string  `json:"sku"`
			Shortfall          float64 `json:"shortfall"`
			WarehouseAvailable float64 `json:"warehouse_available"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 1 {
		t.Fatalf("Expected 1 shortfall line, got %d", len(resp.Data))
	}
	if resp.Data[0].SKU != "RCP-1" || resp.Data[0].Shortfall != 7 {
		t.Errorf("Expected RCP-1 shortfall 7, got %+v", resp.Data[0])
	}
	if resp.Data[0].WarehouseAvailable != 90 {
		t.Errorf("Expected warehouse available 90, got %f", resp.Data[0].WarehouseAvailable)
	}
}
