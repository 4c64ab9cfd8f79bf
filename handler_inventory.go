package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ecm/internal/stock"
)

const itemSelect = `SELECT sku,COALESCE(description,''),COALESCE(category,''),COALESCE(unit,'ea'),
	qty_on_hand,qty_allocated,qty_on_hand - qty_allocated AS qty_available,qty_on_order,
	min_stock,reorder_qty,unit_cost,unit_price,COALESCE(location,''),active,updated_at FROM inventory_items`

func scanItem(row interface{ Scan(...interface{}) error }, i *InventoryItem) error {
	return row.Scan(&i.SKU, &i.Description, &i.Category, &i.Unit,
		&i.QtyOnHand, &i.QtyAllocated, &i.QtyAvailable, &i.QtyOnOrder,
		&i.MinStock, &i.ReorderQty, &i.UnitCost, &i.UnitPrice, &i.Location, &i.Active, &i.UpdatedAt)
}

func handleListInventory(w http.ResponseWriter, r *http.Request) {
	query := itemSelect
	var conditions []string
	var args []interface{}

	if r.URL.Query().Get("low_stock") == "true" {
		conditions = append(conditions, "qty_on_hand - qty_allocated <= min_stock AND min_stock > 0")
	}
	if cat := r.URL.Query().Get("category"); cat != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, cat)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, "(sku LIKE ? OR description LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s)
	}
	if r.URL.Query().Get("include_inactive") != "true" {
		conditions = append(conditions, "active = 1")
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY sku"

	rows, err := db.Query(query, args...)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		var i InventoryItem
		scanItem(rows, &i)
		items = append(items, i)
	}
	if items == nil { items = []InventoryItem{} }
	jsonResp(w, items)
}

func handleGetInventoryItem(w http.ResponseWriter, r *http.Request, sku string) {
	var i InventoryItem
	err := scanItem(db.QueryRow(itemSelect+" WHERE sku=?", sku), &i)
	if err != nil { jsonErr(w, "not found", 404); return }
	jsonResp(w, i)
}

func handleCreateInventoryItem(w http.ResponseWriter, r *http.Request) {
	var i InventoryItem
	if err := decodeBody(r, &i); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "sku", i.SKU)
	validateNonNegativeFloat(ve, "qty_on_hand", i.QtyOnHand)
	validateNonNegativeFloat(ve, "min_stock", i.MinStock)
	validateNonNegativeFloat(ve, "unit_cost", i.UnitCost)
	validateNonNegativeFloat(ve, "unit_price", i.UnitPrice)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	if i.Unit == "" {
		i.Unit = "ea"
	}
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := db.Exec(`INSERT INTO inventory_items
		(sku,description,category,unit,qty_on_hand,min_stock,reorder_qty,unit_cost,unit_price,location,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		i.SKU, i.Description, i.Category, i.Unit, i.QtyOnHand, i.MinStock, i.ReorderQty,
		i.UnitCost, i.UnitPrice, i.Location, now)
	if err != nil { jsonErr(w, "SKU already exists", 409); return }

	if i.QtyOnHand > 0 {
		db.Exec("INSERT INTO stock_moves (sku,type,qty,reference,notes,created_at) VALUES (?,?,?,?,?,?)",
			i.SKU, "receive", i.QtyOnHand, "NEW", "Initial stock", now)
	}

	logAudit(db, getUsername(r), AuditActionCreate, "inventory", i.SKU, "Created item "+i.SKU)
	broadcast("inventory", "create", i.SKU)
	handleGetInventoryItem(w, r, i.SKU)
}

func handleUpdateInventoryItem(w http.ResponseWriter, r *http.Request, sku string) {
	// Quantities change only through stock moves; this updates descriptive
	// fields and thresholds.
	var req struct {
		Description *string  `json:"description"`
		Category    *string  `json:"category"`
		Unit        *string  `json:"unit"`
		MinStock    *float64 `json:"min_stock"`
		ReorderQty  *float64 `json:"reorder_qty"`
		UnitCost    *float64 `json:"unit_cost"`
		UnitPrice   *float64 `json:"unit_price"`
		Location    *string  `json:"location"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Format("2006-01-02 15:04:05")}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if req.Description != nil { add("description", *req.Description) }
	if req.Category != nil { add("category", *req.Category) }
	if req.Unit != nil { add("unit", *req.Unit) }
	if req.MinStock != nil { add("min_stock", *req.MinStock) }
	if req.ReorderQty != nil { add("reorder_qty", *req.ReorderQty) }
	if req.UnitCost != nil { add("unit_cost", *req.UnitCost) }
	if req.UnitPrice != nil { add("unit_price", *req.UnitPrice) }
	if req.Location != nil { add("location", *req.Location) }

	query := "UPDATE inventory_items SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE sku = ?"
	args = append(args, sku)

	res, err := db.Exec(query, args...)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 { jsonErr(w, "not found", 404); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "inventory", sku, "Updated item "+sku)
	broadcast("inventory", "update", sku)
	handleGetInventoryItem(w, r, sku)
}

// handleDeactivateInventoryItem soft-deletes: history and references stay.
func handleDeactivateInventoryItem(w http.ResponseWriter, r *http.Request, sku string) {
	var allocated float64
	err := db.QueryRow("SELECT qty_allocated FROM inventory_items WHERE sku = ?", sku).Scan(&allocated)
	if err != nil { jsonErr(w, "not found", 404); return }
	if allocated > 0 {
		jsonErr(w, fmt.Sprintf("cannot deactivate %s: %.2f still allocated to jobs", sku, allocated), 409)
		return
	}
	db.Exec("UPDATE inventory_items SET active = 0, updated_at = ? WHERE sku = ?",
		time.Now().Format("2006-01-02 15:04:05"), sku)
	logAudit(db, getUsername(r), AuditActionDelete, "inventory", sku, "Deactivated item "+sku)
	broadcast("inventory", "delete", sku)
	jsonResp(w, map[string]string{"status": "ok"})
}

type StockTransactRequest struct {
	Type      string  `json:"type"` // receive | adjust
	Qty       float64 `json:"qty"`  // delta for receive, counted total for adjust
	Reference string  `json:"reference"`
	Notes     string  `json:"notes"`
}

func handleInventoryTransact(w http.ResponseWriter, r *http.Request, sku string) {
	var req StockTransactRequest
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	var snap *stock.Snapshot
	var err error
	switch req.Type {
	case "receive":
		snap, err = stock.Receive(db, sku, req.Qty, req.Reference, req.Notes)
	case "adjust":
		snap, err = stock.Adjust(db, sku, req.Qty, req.Reference, req.Notes)
	default:
		jsonErr(w, "type must be receive or adjust", 400)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), stockErrStatus(err))
		return
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "inventory", sku,
		fmt.Sprintf("Stock %s: %s qty %.2f", req.Type, sku, req.Qty))
	broadcast("inventory", "update", sku)
	jsonResp(w, snap)
}

func handleInventoryHistory(w http.ResponseWriter, r *http.Request, sku string) {
	rows, err := db.Query("SELECT id,sku,type,qty,COALESCE(reference,''),COALESCE(notes,''),created_at FROM stock_moves WHERE sku=? ORDER BY created_at DESC, id DESC", sku)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()
	var moves []StockMove
	for rows.Next() {
		var m StockMove
		rows.Scan(&m.ID, &m.SKU, &m.Type, &m.Qty, &m.Reference, &m.Notes, &m.CreatedAt)
		moves = append(moves, m)
	}
	if moves == nil { moves = []StockMove{} }
	jsonResp(w, moves)
}

// handleImportCatalog ingests a supplier catalog CSV:
// sku,description,category,unit,unit_cost,unit_price,min_stock,reorder_qty
// Existing SKUs get pricing/threshold updates; new SKUs are created at zero
// stock. Each import gets a batch id so it can be traced in the audit log.
func handleImportCatalog(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil { jsonErr(w, "missing file upload", 400); return }
	defer file.Close()

	batchID := uuid.New().String()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	now := time.Now().Format("2006-01-02 15:04:05")
	created, updated, skipped := 0, 0, 0
	lineNo := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil { jsonErr(w, fmt.Sprintf("CSV parse error at line %d: %v", lineNo+1, err), 400); return }
		lineNo++
		if lineNo == 1 && len(rec) > 0 && rec[0] == "sku" {
			continue // header row
		}
		if len(rec) < 2 || rec[0] == "" {
			skipped++
			continue
		}

		sku, desc := rec[0], rec[1]
		get := func(idx int) float64 {
			if idx >= len(rec) {
				return 0
			}
			f, _ := strconv.ParseFloat(rec[idx], 64)
			return f
		}
		category, unit := "", "ea"
		if len(rec) > 2 {
			category = rec[2]
		}
		if len(rec) > 3 && rec[3] != "" {
			unit = rec[3]
		}
		unitCost, unitPrice := get(4), get(5)
		minStock, reorderQty := get(6), get(7)

		res, err := db.Exec(`UPDATE inventory_items SET description=?, category=?, unit=?,
			unit_cost=?, unit_price=?, min_stock=?, reorder_qty=?, updated_at=? WHERE sku=?`,
			desc, category, unit, unitCost, unitPrice, minStock, reorderQty, now, sku)
		if err != nil {
			skipped++
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
			continue
		}
		_, err = db.Exec(`INSERT INTO inventory_items
			(sku,description,category,unit,unit_cost,unit_price,min_stock,reorder_qty,updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			sku, desc, category, unit, unitCost, unitPrice, minStock, reorderQty, now)
		if err != nil {
			skipped++
			continue
		}
		db.Exec("INSERT INTO stock_moves (sku,type,qty,reference,notes,created_at) VALUES (?,?,?,?,?,?)",
			sku, "import", 0, batchID, "Catalog import", now)
		created++
	}

	db.Exec("INSERT INTO catalog_imports (id, filename, item_count, imported_by) VALUES (?,?,?,?)",
		batchID, header.Filename, created+updated, getUsername(r))
	logAudit(db, getUsername(r), AuditActionCreate, "inventory", batchID,
		fmt.Sprintf("Catalog import %s: %d created, %d updated, %d skipped", header.Filename, created, updated, skipped))
	broadcast("inventory", "import", batchID)

	jsonResp(w, map[string]interface{}{
		"batch_id": batchID,
		"created":  created,
		"updated":  updated,
		"skipped":  skipped,
	})
}

// stockErrStatus maps stock engine sentinels to HTTP status codes.
func stockErrStatus(err error) int {
	switch {
	case errors.Is(err, stock.ErrNotFound):
		return 404
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrExceedsAllocation):
		return 409
	case errors.Is(err, stock.ErrInvalidQuantity):
		return 400
	default:
		return 500
	}
}
