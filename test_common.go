package main

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// setupTestDB opens a shared-cache in-memory database named after the test
// and runs the full production schema against it. Callers swap it into the
// global and restore afterward:
//
//	oldDB := db
//	db = setupTestDB(t)
//	defer func() { db.Close(); db = oldDB }()
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	if err := initDB("file:" + name + "?mode=memory&cache=shared"); err != nil {
		t.Fatalf("Failed to init test DB: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *sql.DB, username, password, role string, active bool) int {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	activeInt := 0
	if active {
		activeInt = 1
	}
	res, err := db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, ?)",
		username, string(hash), username, role, activeInt)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	id, _ := res.LastInsertId()
	return int(id)
}

func createTestSession(t *testing.T, db *sql.DB, userID int) string {
	t.Helper()
	token := "test-token-" + strings.ReplaceAll(t.Name(), "/", "_")
	expires := time.Now().Add(1 * time.Hour).Format("2006-01-02 15:04:05")
	_, err := db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)", token, userID, expires)
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}
	return token
}

func createTestItem(t *testing.T, db *sql.DB, sku string, onHand, allocated float64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO inventory_items (sku, description, qty_on_hand, qty_allocated, unit_cost, unit_price, updated_at)
		VALUES (?, ?, ?, ?, 2.50, 6.00, ?)`,
		sku, "Test item "+sku, onHand, allocated, time.Now().Format("2006-01-02 15:04:05"))
	if err != nil {
		t.Fatalf("Failed to create test item: %v", err)
	}
}

func createTestCustomer(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO customers (id, name) VALUES (?, ?)", id, name); err != nil {
		t.Fatalf("Failed to create test customer: %v", err)
	}
}

func createTestWorkOrder(t *testing.T, db *sql.DB, id, customerID string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO work_orders (id, customer_id, title, status) VALUES (?, ?, 'Test job', 'scheduled')", id, customerID)
	if err != nil {
		t.Fatalf("Failed to create test work order: %v", err)
	}
}

func createTestVan(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec("INSERT INTO vans (name, technician) VALUES (?, 'Test Tech')", name)
	if err != nil {
		t.Fatalf("Failed to create test van: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func createTestQuote(t *testing.T, db *sql.DB, id, customerID string, discountPercent, taxRate float64) {
	t.Helper()
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := db.Exec(`INSERT INTO quotes (id, customer_id, title, status, discount_percent, tax_rate, valid_until, created_at, updated_at)
		VALUES (?, ?, 'Test quote', 'draft', ?, ?, ?, ?, ?)`,
		id, customerID, discountPercent, taxRate, time.Now().AddDate(0, 1, 0).Format("2006-01-02"), now, now)
	if err != nil {
		t.Fatalf("Failed to create test quote: %v", err)
	}
}

func itemQuantities(t *testing.T, db *sql.DB, sku string) (onHand, allocated, available float64) {
	t.Helper()
	err := db.QueryRow("SELECT qty_on_hand, qty_allocated, qty_on_hand - qty_allocated FROM inventory_items WHERE sku = ?", sku).
		Scan(&onHand, &allocated, &available)
	if err != nil {
		t.Fatalf("Failed to read item quantities: %v", err)
	}
	return
}
