package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
)

// Two crews race for the last 5 units. Exactly one reservation may win;
// the loser must see a conflict and leave the counters untouched.
func TestConcurrentReserve_LastUnits(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestWorkOrder(t, db, "WO-A", "C-1")
	createTestWorkOrder(t, db, "WO-B", "C-1")
	createTestItem(t, db, "RACE-1", 5, 0)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	wg.Add(2)
	for i, woID := range []string{"WO-A", "WO-B"} {
		go func(idx int, wo string) {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/v1/workorders/"+wo+"/reserve",
				bytes.NewBufferString(`{"sku":"RACE-1","qty":5}`))
			w := httptest.NewRecorder()
			handleReserveMaterial(w, req, wo)
			codes[idx] = w.Code
		}(i, woID)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, c := range codes {
		switch c {
		case 200:
			wins++
		case 409:
			losses++
		default:
			t.Errorf("Unexpected status %d", c)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("Expected exactly one winner and one conflict, got %d wins %d conflicts", wins, losses)
	}

	onHand, allocated, available := itemQuantities(t, db, "RACE-1")
	if onHand != 5 || allocated != 5 || available != 0 {
		t.Errorf("Expected 5/5/0 after race, got %f/%f/%f", onHand, allocated, available)
	}

	var reservations int
	db.QueryRow("SELECT COUNT(*) FROM job_materials WHERE qty_allocated > 0").Scan(&reservations)
	if reservations != 1 {
		t.Errorf("Expected exactly 1 winning reservation, got %d", reservations)
	}
}

// Ten concurrent reservations of 10 against 100 on hand must all succeed
// and sum exactly; a lost update would leave allocated below 100.
func TestConcurrentReserve_TenGoroutines(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestItem(t, db, "RACE-10", 100, 0)
	for i := 0; i < 10; i++ {
		createTestWorkOrder(t, db, fmt.Sprintf("WO-%02d", i), "C-1")
	}

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func(idx int) {
			defer wg.Done()
			wo := fmt.Sprintf("WO-%02d", idx)
			req := httptest.NewRequest("POST", "/api/v1/workorders/"+wo+"/reserve",
				bytes.NewBufferString(`{"sku":"RACE-10","qty":10}`))
			w := httptest.NewRecorder()
			handleReserveMaterial(w, req, wo)
			if w.Code != 200 {
				t.Errorf("Goroutine %d: expected 200, got %d: %s", idx, w.Code, w.Body.String())
			}
		}(i)
	}
	wg.Wait()

	_, allocated, available := itemQuantities(t, db, "RACE-10")
	if allocated != 100 {
		t.Errorf("Expected 100 allocated (lost update?), got %f", allocated)
	}
	if available != 0 {
		t.Errorf("Expected 0 available, got %f", available)
	}
}

// Concurrent transfers to two vans plus a reservation against the same SKU
// must never drive availability negative or break the invariant.
func TestConcurrentTransferAndReserve(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestWorkOrder(t, db, "WO-1", "C-1")
	createTestItem(t, db, "MIX-1", 30, 0)
	van1 := createTestVan(t, db, "Van A")
	van2 := createTestVan(t, db, "Van B")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest("POST", "/api/v1/vans/1/transfer",
			bytes.NewBufferString(`{"sku":"MIX-1","qty":10}`))
		w := httptest.NewRecorder()
		handleVanTransfer(w, req, fmt.Sprintf("%d", van1))
		if w.Code != 200 {
			t.Errorf("transfer 1: got %d: %s", w.Code, w.Body.String())
		}
	}()
	go func() {
		defer wg.Done()
		req := httptest.NewRequest("POST", "/api/v1/vans/2/transfer",
			bytes.NewBufferString(`{"sku":"MIX-1","qty":10}`))
		w := httptest.NewRecorder()
		handleVanTransfer(w, req, fmt.Sprintf("%d", van2))
		if w.Code != 200 {
			t.Errorf("transfer 2: got %d: %s", w.Code, w.Body.String())
		}
	}()
	go func() {
		defer wg.Done()
		req := httptest.NewRequest("POST", "/api/v1/workorders/WO-1/reserve",
			bytes.NewBufferString(`{"sku":"MIX-1","qty":10}`))
		w := httptest.NewRecorder()
		handleReserveMaterial(w, req, "WO-1")
		if w.Code != 200 {
			t.Errorf("reserve: got %d: %s", w.Code, w.Body.String())
		}
	}()
	wg.Wait()

	onHand, allocated, available := itemQuantities(t, db, "MIX-1")
	if onHand != 10 || allocated != 10 || available != 0 {
		t.Errorf("Expected 10/10/0, got %f/%f/%f", onHand, allocated, available)
	}

	var vanTotal float64
	db.QueryRow("SELECT COALESCE(SUM(qty),0) FROM van_inventory WHERE sku='MIX-1'").Scan(&vanTotal)
	if vanTotal != 20 {
		t.Errorf("Expected 20 on vans, got %f", vanTotal)
	}
}
