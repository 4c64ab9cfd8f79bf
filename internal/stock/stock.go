// Package stock implements the warehouse allocation engine: reserving,
// consuming, and releasing inventory against work orders, and transferring
// stock to van pools. Every operation is a single transaction; the
// qty_available = qty_on_hand - qty_allocated invariant holds at every
// commit point because availability is derived, never stored.
package stock

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientStock means the operation would have driven available
	// quantity negative. The caller may retry with AllowBackorder set.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNotFound means the referenced SKU, reservation, or van is missing
	// or inactive.
	ErrNotFound = errors.New("not found")
	// ErrExceedsAllocation means a consume would push
	// qty_used + qty_returned past qty_allocated.
	ErrExceedsAllocation = errors.New("quantity exceeds allocation")
	// ErrInvalidQuantity rejects zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Snapshot is the quantity state of an item after an operation.
type Snapshot struct {
	SKU          string  `json:"sku"`
	QtyOnHand    float64 `json:"qty_on_hand"`
	QtyAllocated float64 `json:"qty_allocated"`
	QtyAvailable float64 `json:"qty_available"`
}

// ReserveOptions controls reservation policy. AllowBackorder permits a
// partial allocation when available stock cannot cover the request; the
// shortfall is recorded on the reservation as a gap to order.
type ReserveOptions struct {
	AllowBackorder bool
}

// ReserveResult reports what a reservation actually did.
type ReserveResult struct {
	JobMaterialID int64    `json:"job_material_id"`
	QtyRequested  float64  `json:"qty_requested"`
	QtyAllocated  float64  `json:"qty_allocated"`
	BackorderGap  float64  `json:"backorder_gap"`
	Item          Snapshot `json:"item"`
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func snapshot(q interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}, sku string) (Snapshot, error) {
	var s Snapshot
	err := q.QueryRow(`SELECT sku, qty_on_hand, qty_allocated, qty_on_hand - qty_allocated
		FROM inventory_items WHERE sku=?`, sku).
		Scan(&s.SKU, &s.QtyOnHand, &s.QtyAllocated, &s.QtyAvailable)
	if err == sql.ErrNoRows {
		return s, fmt.Errorf("item %s: %w", sku, ErrNotFound)
	}
	return s, err
}

func logMove(tx *sql.Tx, sku, moveType string, qty float64, reference, notes string) error {
	_, err := tx.Exec("INSERT INTO stock_moves (sku,type,qty,reference,notes,created_at) VALUES (?,?,?,?,?,?)",
		sku, moveType, qty, reference, notes, now())
	return err
}

// Reserve earmarks qty units of sku for a work order. The availability
// check and the allocation increment are one guarded UPDATE, so two
// concurrent reservations for the last units serialize to exactly one
// success. The item's unit cost and price are snapshotted onto the
// reservation row and never drift afterward.
func Reserve(db *sql.DB, sku, workOrderID string, qty float64, opts ReserveOptions) (*ReserveResult, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var woCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM work_orders WHERE id=?", workOrderID).Scan(&woCount); err != nil {
		return nil, err
	}
	if woCount == 0 {
		return nil, fmt.Errorf("work order %s: %w", workOrderID, ErrNotFound)
	}

	var unitCost, unitPrice float64
	err = tx.QueryRow("SELECT unit_cost, unit_price FROM inventory_items WHERE sku=? AND active=1", sku).
		Scan(&unitCost, &unitPrice)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", sku, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	// Try the full quantity first. The WHERE guard makes check-and-update
	// atomic at the statement level.
	allocQty := qty
	res, err := tx.Exec(`UPDATE inventory_items
		SET qty_allocated = qty_allocated + ?, updated_at = ?
		WHERE sku = ? AND qty_on_hand - qty_allocated >= ?`,
		allocQty, now(), sku, allocQty)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	gap := 0.0
	if n == 0 {
		if !opts.AllowBackorder {
			return nil, fmt.Errorf("reserve %g of %s: %w", qty, sku, ErrInsufficientStock)
		}
		// Partial allocation: take whatever is available, record the rest
		// as a gap to order.
		snap, err := snapshot(tx, sku)
		if err != nil {
			return nil, err
		}
		allocQty = snap.QtyAvailable
		if allocQty < 0 {
			allocQty = 0
		}
		gap = qty - allocQty
		if allocQty > 0 {
			res, err = tx.Exec(`UPDATE inventory_items
				SET qty_allocated = qty_allocated + ?, updated_at = ?
				WHERE sku = ? AND qty_on_hand - qty_allocated >= ?`,
				allocQty, now(), sku, allocQty)
			if err != nil {
				return nil, err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Lost a race between the snapshot read and the update.
				return nil, fmt.Errorf("reserve %g of %s: %w", qty, sku, ErrInsufficientStock)
			}
		}
	}

	status := "allocated"
	if allocQty == 0 {
		status = "planned"
	}

	// One reservation row per (work order, sku); repeated reserves add on.
	var jmID int64
	var exNeeded, exAlloc float64
	err = tx.QueryRow(`SELECT id, qty_needed, qty_allocated FROM job_materials
		WHERE work_order_id=? AND sku=? AND status IN ('planned','checking','allocated')`,
		workOrderID, sku).Scan(&jmID, &exNeeded, &exAlloc)
	switch {
	case err == sql.ErrNoRows:
		r, err := tx.Exec(`INSERT INTO job_materials
			(work_order_id, sku, qty_needed, qty_allocated, status, unit_cost, unit_price, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			workOrderID, sku, qty, allocQty, status, unitCost, unitPrice, now(), now())
		if err != nil {
			return nil, err
		}
		jmID, err = r.LastInsertId()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if exAlloc+allocQty > 0 {
			status = "allocated"
		}
		_, err = tx.Exec(`UPDATE job_materials
			SET qty_needed = qty_needed + ?, qty_allocated = qty_allocated + ?, status = ?, updated_at = ?
			WHERE id = ?`, qty, allocQty, status, now(), jmID)
		if err != nil {
			return nil, err
		}
	}

	snap, err := snapshot(tx, sku)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ReserveResult{
		JobMaterialID: jmID,
		QtyRequested:  qty,
		QtyAllocated:  allocQty,
		BackorderGap:  gap,
		Item:          snap,
	}, nil
}

// Consume converts allocated quantity into used quantity: on_hand and
// allocated both drop by qtyUsed in the same statement. With
// returnRemainder set, any still-allocated remainder is released back to
// available and recorded as returned.
func Consume(db *sql.DB, jobMaterialID int64, qtyUsed float64, returnRemainder bool) (*Snapshot, error) {
	if qtyUsed <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sku string
	var allocated, used, returned float64
	err = tx.QueryRow(`SELECT sku, qty_allocated, qty_used, qty_returned
		FROM job_materials WHERE id=?`, jobMaterialID).
		Scan(&sku, &allocated, &used, &returned)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", jobMaterialID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if used+returned+qtyUsed > allocated {
		return nil, fmt.Errorf("consume %g (used %g, returned %g, allocated %g): %w",
			qtyUsed, used, returned, allocated, ErrExceedsAllocation)
	}

	remainder := 0.0
	if returnRemainder {
		remainder = allocated - used - returned - qtyUsed
	}

	status := "allocated"
	if used+returned+qtyUsed+remainder >= allocated {
		status = "used"
	}
	_, err = tx.Exec(`UPDATE job_materials
		SET qty_used = qty_used + ?, qty_returned = qty_returned + ?, status = ?, updated_at = ?
		WHERE id = ?`, qtyUsed, remainder, status, now(), jobMaterialID)
	if err != nil {
		return nil, err
	}

	// Consumption removes physical stock; the returned remainder only
	// releases the claim, on_hand is untouched by it.
	res, err := tx.Exec(`UPDATE inventory_items
		SET qty_on_hand = qty_on_hand - ?, qty_allocated = qty_allocated - ?, updated_at = ?
		WHERE sku = ? AND qty_on_hand >= ? AND qty_allocated >= ?`,
		qtyUsed, qtyUsed+remainder, now(), sku, qtyUsed, qtyUsed+remainder)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("consume %g of %s: %w", qtyUsed, sku, ErrInsufficientStock)
	}

	if err := logMove(tx, sku, "consume", qtyUsed, fmt.Sprintf("JM-%d", jobMaterialID), ""); err != nil {
		return nil, err
	}

	snap, err := snapshot(tx, sku)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Release returns all still-allocated, not-yet-used quantity on a
// reservation back to available stock. On-hand quantity never changes.
func Release(db *sql.DB, jobMaterialID int64) (*Snapshot, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sku string
	var allocated, used, returned float64
	err = tx.QueryRow(`SELECT sku, qty_allocated, qty_used, qty_returned
		FROM job_materials WHERE id=?`, jobMaterialID).
		Scan(&sku, &allocated, &used, &returned)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", jobMaterialID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	remainder := allocated - used - returned
	if remainder > 0 {
		res, err := tx.Exec(`UPDATE inventory_items
			SET qty_allocated = qty_allocated - ?, updated_at = ?
			WHERE sku = ? AND qty_allocated >= ?`,
			remainder, now(), sku, remainder)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("release %g of %s: allocation ledger out of sync", remainder, sku)
		}
	}

	status := "returned"
	if used > 0 {
		status = "used"
	}
	_, err = tx.Exec(`UPDATE job_materials
		SET qty_returned = qty_returned + ?, status = ?, updated_at = ?
		WHERE id = ?`, remainder, status, now(), jobMaterialID)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot(tx, sku)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// TransferToVan moves qty units from the warehouse pool into a van's pool.
// The warehouse debit and van credit commit together or not at all; a
// failed guard leaves both sides untouched.
func TransferToVan(db *sql.DB, sku string, vanID int64, qty float64) (*Snapshot, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var vanCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM vans WHERE id=? AND active=1", vanID).Scan(&vanCount); err != nil {
		return nil, err
	}
	if vanCount == 0 {
		return nil, fmt.Errorf("van %d: %w", vanID, ErrNotFound)
	}

	// Only unallocated stock may leave the warehouse.
	res, err := tx.Exec(`UPDATE inventory_items
		SET qty_on_hand = qty_on_hand - ?, updated_at = ?
		WHERE sku = ? AND active = 1 AND qty_on_hand - qty_allocated >= ?`,
		qty, now(), sku, qty)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, serr := snapshot(tx, sku); errors.Is(serr, ErrNotFound) {
			return nil, serr
		}
		return nil, fmt.Errorf("transfer %g of %s to van %d: %w", qty, sku, vanID, ErrInsufficientStock)
	}

	_, err = tx.Exec(`INSERT INTO van_inventory (van_id, sku, qty, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(van_id, sku) DO UPDATE SET qty = qty + excluded.qty, updated_at = excluded.updated_at`,
		vanID, sku, qty, now())
	if err != nil {
		return nil, err
	}

	if err := logMove(tx, sku, "transfer", qty, fmt.Sprintf("VAN-%d", vanID), ""); err != nil {
		return nil, err
	}

	snap, err := snapshot(tx, sku)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Receive adds qty units to warehouse on-hand stock (goods receipt).
func Receive(db *sql.DB, sku string, qty float64, reference, notes string) (*Snapshot, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	return applyOnHand(db, sku, "receive",
		"UPDATE inventory_items SET qty_on_hand = qty_on_hand + ?, updated_at = ? WHERE sku = ?",
		qty, reference, notes)
}

// Adjust sets on-hand stock to a counted quantity (cycle count). The count
// cannot go below what is currently allocated to jobs.
func Adjust(db *sql.DB, sku string, countedQty float64, reference, notes string) (*Snapshot, error) {
	if countedQty < 0 {
		return nil, ErrInvalidQuantity
	}
	return applyOnHand(db, sku, "adjust",
		"UPDATE inventory_items SET qty_on_hand = ?, updated_at = ? WHERE sku = ? AND qty_allocated <= ?",
		countedQty, reference, notes)
}

func applyOnHand(db *sql.DB, sku, moveType, query string, qty float64, reference, notes string) (*Snapshot, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []interface{}{qty, now(), sku}
	if moveType == "adjust" {
		args = append(args, qty)
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, serr := snapshot(tx, sku); errors.Is(serr, ErrNotFound) {
			return nil, serr
		}
		return nil, fmt.Errorf("%s %s: count below allocated quantity: %w", moveType, sku, ErrInsufficientStock)
	}

	if err := logMove(tx, sku, moveType, qty, reference, notes); err != nil {
		return nil, err
	}

	snap, err := snapshot(tx, sku)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &snap, nil
}
