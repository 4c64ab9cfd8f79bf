package main

import (
	"fmt"
	"net/http"
	"strconv"

	"ecm/internal/stock"
)

type ReserveRequest struct {
	SKU            string  `json:"sku"`
	Qty            float64 `json:"qty"`
	AllowBackorder *bool   `json:"allow_backorder"` // defaults to site policy
}

type ConsumeRequest struct {
	QtyUsed         float64 `json:"qty_used"`
	ReturnRemainder bool    `json:"return_remainder"`
}

// handleReserveMaterial allocates warehouse stock to a work order. The
// decrement of availability and the job material upsert commit atomically,
// so two crews racing for the last reel of wire cannot both win.
func handleReserveMaterial(w http.ResponseWriter, r *http.Request, workOrderID string) {
	var req ReserveRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, "invalid body", 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "sku", req.SKU)
	validatePositiveFloat(ve, "qty", req.Qty)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	allowBackorder := appConfig.AllowBackorder
	if req.AllowBackorder != nil {
		allowBackorder = *req.AllowBackorder
	}

	result, err := stock.Reserve(db, req.SKU, workOrderID, req.Qty, stock.ReserveOptions{AllowBackorder: allowBackorder})
	if err != nil {
		jsonErr(w, err.Error(), stockErrStatus(err))
		return
	}

	summary := fmt.Sprintf("Reserved %.2f x %s", result.QtyAllocated, req.SKU)
	if result.BackorderGap > 0 {
		summary += fmt.Sprintf(" (%.2f backordered)", result.BackorderGap)
	}
	logAudit(db, getUsername(r), AuditActionUpdate, "workorders", workOrderID, summary)
	broadcast("inventory", "update", req.SKU)
	broadcast("workorders", "update", workOrderID)
	jsonResp(w, result)
}

// handleConsumeMaterial records usage against an allocation. Used stock
// leaves both on-hand and allocated; any unused remainder can go back to
// the available pool in the same transaction.
func handleConsumeMaterial(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		jsonErr(w, "invalid allocation id", 400)
		return
	}

	var req ConsumeRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, "invalid body", 400)
		return
	}
	if req.QtyUsed < 0 {
		jsonErr(w, "qty_used must be non-negative", 400)
		return
	}

	snap, err := stock.Consume(db, id, req.QtyUsed, req.ReturnRemainder)
	if err != nil {
		jsonErr(w, err.Error(), stockErrStatus(err))
		return
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "inventory", snap.SKU,
		fmt.Sprintf("Consumed %.2f x %s (allocation %d)", req.QtyUsed, snap.SKU, id))
	broadcast("inventory", "update", snap.SKU)
	jsonResp(w, snap)
}

// handleReleaseMaterial cancels the unused remainder of an allocation.
func handleReleaseMaterial(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		jsonErr(w, "invalid allocation id", 400)
		return
	}

	snap, err := stock.Release(db, id)
	if err != nil {
		jsonErr(w, err.Error(), stockErrStatus(err))
		return
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "inventory", snap.SKU,
		fmt.Sprintf("Released allocation %d for %s", id, snap.SKU))
	broadcast("inventory", "update", snap.SKU)
	jsonResp(w, snap)
}

func handleListWorkOrderMaterials(w http.ResponseWriter, r *http.Request, workOrderID string) {
	rows, err := db.Query(`SELECT id, work_order_id, sku, qty_needed, qty_allocated, qty_used, qty_returned,
		status, unit_cost, unit_price, created_at, updated_at
		FROM job_materials WHERE work_order_id = ? ORDER BY id`, workOrderID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var materials []JobMaterial
	for rows.Next() {
		var m JobMaterial
		rows.Scan(&m.ID, &m.WorkOrderID, &m.SKU, &m.QtyNeeded, &m.QtyAllocated, &m.QtyUsed, &m.QtyReturned,
			&m.Status, &m.UnitCost, &m.UnitPrice, &m.CreatedAt, &m.UpdatedAt)
		materials = append(materials, m)
	}
	if materials == nil {
		materials = []JobMaterial{}
	}
	jsonResp(w, materials)
}
