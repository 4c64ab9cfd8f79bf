package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ecm/internal/stock"
)

func handleListVans(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id, name, COALESCE(technician,''), active, created_at FROM vans ORDER BY name")
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()
	var vans []Van
	for rows.Next() {
		var v Van
		rows.Scan(&v.ID, &v.Name, &v.Technician, &v.Active, &v.CreatedAt)
		vans = append(vans, v)
	}
	if vans == nil { vans = []Van{} }
	jsonResp(w, vans)
}

func handleCreateVan(w http.ResponseWriter, r *http.Request) {
	var v Van
	if err := decodeBody(r, &v); err != nil { jsonErr(w, "invalid body", 400); return }
	ve := &ValidationErrors{}
	requireField(ve, "name", v.Name)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	res, err := db.Exec("INSERT INTO vans (name, technician) VALUES (?, ?)", v.Name, v.Technician)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	id, _ := res.LastInsertId()

	logAudit(db, getUsername(r), AuditActionCreate, "vans", strconv.FormatInt(id, 10), "Created van "+v.Name)
	broadcast("vans", "create", id)
	jsonResp(w, map[string]interface{}{"id": id, "name": v.Name})
}

func handleUpdateVan(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	var req struct {
		Name       *string `json:"name"`
		Technician *string `json:"technician"`
		Active     *bool   `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	if req.Name != nil {
		db.Exec("UPDATE vans SET name = ? WHERE id = ?", *req.Name, id)
	}
	if req.Technician != nil {
		db.Exec("UPDATE vans SET technician = ? WHERE id = ?", *req.Technician, id)
	}
	if req.Active != nil {
		active := 0
		if *req.Active {
			active = 1
		}
		db.Exec("UPDATE vans SET active = ? WHERE id = ?", active, id)
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "vans", idStr, "Updated van")
	broadcast("vans", "update", id)
	jsonResp(w, map[string]string{"status": "ok"})
}

func handleVanStock(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	rows, err := db.Query(`SELECT vi.van_id, vi.sku, COALESCE(i.description,''), vi.qty, vi.min_qty, vi.updated_at
		FROM van_inventory vi JOIN inventory_items i ON i.sku = vi.sku
		WHERE vi.van_id = ? ORDER BY vi.sku`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var items []VanStock
	for rows.Next() {
		var s VanStock
		rows.Scan(&s.VanID, &s.SKU, &s.Description, &s.Qty, &s.MinQty, &s.UpdatedAt)
		items = append(items, s)
	}
	if items == nil { items = []VanStock{} }
	jsonResp(w, items)
}

type TransferRequest struct {
	SKU string  `json:"sku"`
	Qty float64 `json:"qty"`
}

// handleVanTransfer moves warehouse stock onto a van. The warehouse debit
// and van credit commit together; a failed transfer leaves both sides
// untouched.
func handleVanTransfer(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	var req TransferRequest
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "sku", req.SKU)
	validatePositiveFloat(ve, "qty", req.Qty)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	snap, err := stock.TransferToVan(db, req.SKU, id, req.Qty)
	if err != nil {
		jsonErr(w, err.Error(), stockErrStatus(err))
		return
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "vans", idStr,
		fmt.Sprintf("Transferred %.2f x %s to van %d", req.Qty, req.SKU, id))
	broadcast("inventory", "update", req.SKU)
	broadcast("vans", "update", id)
	jsonResp(w, snap)
}

// handleVanUse records material used off the van on a job. Van stock is a
// separate pool; using it never touches warehouse counters.
func handleVanUse(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	var req struct {
		SKU       string  `json:"sku"`
		Qty       float64 `json:"qty"`
		Reference string  `json:"reference"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }
	if req.Qty <= 0 { jsonErr(w, "qty must be positive", 400); return }

	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := db.Exec(`UPDATE van_inventory SET qty = qty - ?, updated_at = ?
		WHERE van_id = ? AND sku = ? AND qty >= ?`, req.Qty, now, id, req.SKU, req.Qty)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, fmt.Sprintf("insufficient van stock for %s", req.SKU), 409)
		return
	}

	db.Exec("INSERT INTO stock_moves (sku,type,qty,reference,notes,created_at) VALUES (?,?,?,?,?,?)",
		req.SKU, "consume", req.Qty, req.Reference, fmt.Sprintf("Used from van %d", id), now)

	logAudit(db, getUsername(r), AuditActionUpdate, "vans", idStr,
		fmt.Sprintf("Used %.2f x %s from van %d", req.Qty, req.SKU, id))
	broadcast("vans", "update", id)
	jsonResp(w, map[string]string{"status": "ok"})
}

// handleVanRestock lists van items sitting below their minimum, with the
// warehouse availability to refill them.
func handleVanRestock(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	rows, err := db.Query(`SELECT vi.sku, COALESCE(i.description,''), vi.qty, vi.min_qty,
		vi.min_qty - vi.qty AS shortfall, i.qty_on_hand - i.qty_allocated AS warehouse_available
		FROM van_inventory vi JOIN inventory_items i ON i.sku = vi.sku
		WHERE vi.van_id = ? AND vi.qty < vi.min_qty ORDER BY shortfall DESC`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	type RestockLine struct {
		SKU                string  `json:"sku"`
		Description        string  `json:"description"`
		Qty                float64 `json:"qty"`
		MinQty             float64 `json:"min_qty"`
		Shortfall          float64 `json:"shortfall"`
		WarehouseAvailable float64 `json:"warehouse_available"`
	}
	var lines []RestockLine
	for rows.Next() {
		var l RestockLine
		rows.Scan(&l.SKU, &l.Description, &l.Qty, &l.MinQty, &l.Shortfall, &l.WarehouseAvailable)
		lines = append(lines, l)
	}
	if lines == nil { lines = []RestockLine{} }
	jsonResp(w, lines)
}

// handleSetVanMin sets a van's par level for one SKU.
func handleSetVanMin(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil { jsonErr(w, "invalid van id", 400); return }

	var req struct {
		SKU    string  `json:"sku"`
		MinQty float64 `json:"min_qty"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }
	if req.MinQty < 0 { jsonErr(w, "min_qty must be non-negative", 400); return }

	now := time.Now().Format("2006-01-02 15:04:05")
	_, err = db.Exec(`INSERT INTO van_inventory (van_id, sku, qty, min_qty, updated_at) VALUES (?,?,0,?,?)
		ON CONFLICT(van_id, sku) DO UPDATE SET min_qty = excluded.min_qty, updated_at = excluded.updated_at`,
		id, req.SKU, req.MinQty, now)
	if err != nil { jsonErr(w, err.Error(), 500); return }

	jsonResp(w, map[string]string{"status": "ok"})
}
