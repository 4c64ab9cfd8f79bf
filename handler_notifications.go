package main

import (
	"fmt"
	"log"
	"net/http"
)

func handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := `SELECT id, type, severity, title, COALESCE(message,''), COALESCE(record_id,''), COALESCE(module,''), read_at, created_at FROM notifications`
	if r.URL.Query().Get("unread") == "true" {
		q += " WHERE read_at IS NULL"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT 50"

	rows, err := db.Query(q)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.RecordID, &n.Module, &n.ReadAt, &n.CreatedAt); err != nil {
			continue
		}
		notifs = append(notifs, n)
	}
	if notifs == nil { notifs = []Notification{} }
	jsonResp(w, notifs)
}

func handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := db.Exec("UPDATE notifications SET read_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, map[string]string{"status": "read"})
}

type pendingNotif struct {
	ntype    string
	severity string
	title    string
	message  string
	recordID string
	module   string
}

// generateNotifications sweeps for actionable conditions: warehouse
// availability below minimum, van bins below par, quotes past validity.
// It also expires stale quotes so the pipeline report stays honest.
func generateNotifications() {
	var pending []pendingNotif

	// Warehouse low stock is judged on availability, not raw on-hand; an
	// item fully allocated to jobs is effectively gone.
	func() {
		rows, err := db.Query(`SELECT sku, qty_on_hand - qty_allocated, min_stock FROM inventory_items
			WHERE active = 1 AND min_stock > 0 AND qty_on_hand - qty_allocated <= min_stock`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var sku string
			var avail, min float64
			rows.Scan(&sku, &avail, &min)
			pending = append(pending, pendingNotif{"low_stock", "warning", "Low stock: " + sku,
				fmt.Sprintf("%.0f available, min %.0f", avail, min), sku, "inventory"})
		}
	}()

	// Van bins below par
	func() {
		rows, err := db.Query(`SELECT v.id, v.name, COUNT(*) FROM van_inventory vi
			JOIN vans v ON v.id = vi.van_id
			WHERE v.active = 1 AND vi.qty < vi.min_qty
			GROUP BY v.id, v.name`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			var name string
			var count int
			rows.Scan(&id, &name, &count)
			pending = append(pending, pendingNotif{"van_restock", "warning", "Restock needed: " + name,
				fmt.Sprintf("%d items below minimum", count), fmt.Sprintf("%d", id), "vans"})
		}
	}()

	if n := expireStaleQuotes(); n > 0 {
		log.Printf("Expired %d stale quotes", n)
	}

	// Quotes expiring within 3 days
	func() {
		rows, err := db.Query(`SELECT id, valid_until FROM quotes
			WHERE status IN ('sent','viewed') AND valid_until <= date('now', '+3 days') AND valid_until >= date('now')`)
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id, validUntil string
			rows.Scan(&id, &validUntil)
			pending = append(pending, pendingNotif{"quote_expiring", "info", "Quote expiring: " + id,
				"Valid until " + validUntil, id, "quotes"})
		}
	}()

	for _, p := range pending {
		createNotificationIfNew(p.ntype, p.severity, p.title, p.message, p.recordID, p.module)
	}
}

// createNotificationIfNew inserts a notification unless the same
// type+record fired within the last 24 hours.
func createNotificationIfNew(ntype, severity, title, message, recordID, module string) {
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ? AND created_at > datetime('now', '-24 hours')`,
		ntype, recordID).Scan(&count)
	if count > 0 {
		return
	}
	_, err := db.Exec(`INSERT INTO notifications (type, severity, title, message, record_id, module) VALUES (?, ?, ?, ?, ?, ?)`,
		ntype, severity, title, message, recordID, module)
	if err != nil {
		log.Println("Failed to insert notification:", err)
		return
	}
	broadcast("notifications", "create", recordID)
}
