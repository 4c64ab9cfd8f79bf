package main

import (
	"strconv"
	"testing"
)

func notifCount(t *testing.T, ntype, recordID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ?", ntype, recordID).Scan(&n); err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	return n
}

func TestGenerateNotifications_LowStockUsesAvailability(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	// Plenty on hand but almost all of it allocated: 20 - 18 = 2 <= min 5.
	createTestItem(t, db, "TIED-UP", 20, 18)
	db.Exec("UPDATE inventory_items SET min_stock = 5 WHERE sku='TIED-UP'")

	// Healthy availability despite a lower raw count.
	createTestItem(t, db, "HEALTHY", 12, 0)
	db.Exec("UPDATE inventory_items SET min_stock = 5 WHERE sku='HEALTHY'")

	generateNotifications()

	if n := notifCount(t, "low_stock", "TIED-UP"); n != 1 {
		t.Errorf("Expected low stock notification for allocated-out item, got %d", n)
	}
	if n := notifCount(t, "low_stock", "HEALTHY"); n != 0 {
		t.Errorf("Expected no notification for healthy item, got %d", n)
	}
}

func TestGenerateNotifications_VanBelowPar(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "BRK-1", 100, 0)
	vanID := createTestVan(t, db, "Van 7")
	db.Exec("INSERT INTO van_inventory (van_id, sku, qty, min_qty) VALUES (?, 'BRK-1', 2, 10)", vanID)

	generateNotifications()

	if n := notifCount(t, "van_restock", strconv.FormatInt(vanID, 10)); n != 1 {
		t.Errorf("Expected van restock notification, got %d", n)
	}
}

func TestGenerateNotifications_DedupWithin24Hours(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestItem(t, db, "LOW-1", 3, 0)
	db.Exec("UPDATE inventory_items SET min_stock = 5 WHERE sku='LOW-1'")

	generateNotifications()
	generateNotifications()
	generateNotifications()

	if n := notifCount(t, "low_stock", "LOW-1"); n != 1 {
		t.Errorf("Expected exactly 1 notification after repeated sweeps, got %d", n)
	}

	// An old notification for the same record no longer suppresses a new one.
	db.Exec("UPDATE notifications SET created_at = datetime('now', '-2 days') WHERE record_id='LOW-1'")
	generateNotifications()
	if n := notifCount(t, "low_stock", "LOW-1"); n != 2 {
		t.Errorf("Expected a fresh notification after 24h window, got %d", n)
	}
}

func TestGenerateNotifications_ExpiresStaleQuotes(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestCustomer(t, db, "C-1", "Test Customer")
	createTestQuote(t, db, "Q-STALE", "C-1", 0, 0)
	db.Exec("UPDATE quotes SET status='sent', valid_until = date('now', '-1 day') WHERE id='Q-STALE'")
	createTestQuote(t, db, "Q-FRESH", "C-1", 0, 0)
	db.Exec("UPDATE quotes SET status='sent' WHERE id='Q-FRESH'")

	generateNotifications()

	var stale, fresh string
	db.QueryRow("SELECT status FROM quotes WHERE id='Q-STALE'").Scan(&stale)
	db.QueryRow("SELECT status FROM quotes WHERE id='Q-FRESH'").Scan(&fresh)
	if stale != "expired" {
		t.Errorf("Expected stale quote expired, got %s", stale)
	}
	if fresh != "sent" {
		t.Errorf("Expected fresh quote untouched, got %s", fresh)
	}
}
