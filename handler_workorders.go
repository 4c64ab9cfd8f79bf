package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ecm/internal/rollup"
)

const workOrderSelect = `SELECT id, customer_id, COALESCE(quote_id,''), title, status, priority,
	quoted_total, actual_labor, actual_material, COALESCE(notes,''),
	created_at, started_at, completed_at FROM work_orders`

func scanWorkOrder(row interface{ Scan(...interface{}) error }, wo *WorkOrder) error {
	var startedAt, completedAt sql.NullString
	err := row.Scan(&wo.ID, &wo.CustomerID, &wo.QuoteID, &wo.Title, &wo.Status, &wo.Priority,
		&wo.QuotedTotal, &wo.ActualLabor, &wo.ActualMaterial, &wo.Notes,
		&wo.CreatedAt, &startedAt, &completedAt)
	wo.StartedAt = sp(startedAt)
	wo.CompletedAt = sp(completedAt)
	return err
}

// Work order lifecycle. Cancellation is allowed from any open state.
var woTransitions = map[string][]string{
	"draft":       {"scheduled", "in_progress", "cancelled"},
	"scheduled":   {"in_progress", "cancelled"},
	"in_progress": {"completed", "cancelled"},
	"completed":   {"invoiced"},
	"invoiced":    {},
	"cancelled":   {},
}

func isValidWOTransition(from, to string) bool {
	for _, s := range woTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	query := workOrderSelect
	var conditions []string
	var args []interface{}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	if cust := r.URL.Query().Get("customer_id"); cust != "" {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, cust)
	}
	if prio := r.URL.Query().Get("priority"); prio != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, prio)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var orders []WorkOrder
	for rows.Next() {
		var wo WorkOrder
		scanWorkOrder(rows, &wo)
		orders = append(orders, wo)
	}
	if orders == nil { orders = []WorkOrder{} }
	jsonResp(w, orders)
}

func handleGetWorkOrder(w http.ResponseWriter, r *http.Request, id string) {
	var wo WorkOrder
	if err := scanWorkOrder(db.QueryRow(workOrderSelect+" WHERE id=?", id), &wo); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	mrows, err := db.Query(`SELECT id, work_order_id, sku, qty_needed, qty_allocated, qty_used, qty_returned,
		status, unit_cost, unit_price, created_at, updated_at
		FROM job_materials WHERE work_order_id = ? ORDER BY id`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer mrows.Close()
	for mrows.Next() {
		var m JobMaterial
		mrows.Scan(&m.ID, &m.WorkOrderID, &m.SKU, &m.QtyNeeded, &m.QtyAllocated, &m.QtyUsed, &m.QtyReturned,
			&m.Status, &m.UnitCost, &m.UnitPrice, &m.CreatedAt, &m.UpdatedAt)
		wo.Materials = append(wo.Materials, m)
	}
	if wo.Materials == nil { wo.Materials = []JobMaterial{} }

	wo.Schedules = loadSchedules(id)
	jsonResp(w, wo)
}

func loadSchedules(workOrderID string) []WorkOrderSchedule {
	rows, err := db.Query(`SELECT id, work_order_id, date, COALESCE(start_time,''), COALESCE(end_time,''),
		COALESCE(crew_lead,''), COALESCE(notes,'') FROM work_order_schedules
		WHERE work_order_id = ? ORDER BY date, start_time`, workOrderID)
	if err != nil {
		return []WorkOrderSchedule{}
	}
	defer rows.Close()

	schedules := []WorkOrderSchedule{}
	for rows.Next() {
		var s WorkOrderSchedule
		rows.Scan(&s.ID, &s.WorkOrderID, &s.Date, &s.StartTime, &s.EndTime, &s.CrewLead, &s.Notes)
		s.Crew = []string{}
		crew, err := db.Query("SELECT member FROM schedule_crew WHERE schedule_id = ? ORDER BY id", s.ID)
		if err == nil {
			for crew.Next() {
				var m string
				crew.Scan(&m)
				s.Crew = append(s.Crew, m)
			}
			crew.Close()
		}
		schedules = append(schedules, s)
	}
	return schedules
}

var woPriorities = []string{"low", "normal", "high", "emergency"}

func handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var wo WorkOrder
	if err := decodeBody(r, &wo); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "customer_id", wo.CustomerID)
	requireField(ve, "title", wo.Title)
	validateForeignKey(ve, "customer_id", "customers", wo.CustomerID)
	validateEnum(ve, "priority", wo.Priority, woPriorities)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }
	if wo.Priority == "" {
		wo.Priority = "normal"
	}

	wo.ID = nextID("WO", "work_orders", 4)
	_, err := db.Exec(`INSERT INTO work_orders (id, customer_id, title, status, priority, quoted_total, notes)
		VALUES (?,?,?,'draft',?,?,?)`,
		wo.ID, wo.CustomerID, wo.Title, wo.Priority, wo.QuotedTotal, wo.Notes)
	if err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionCreate, "workorders", wo.ID, "Created work order "+wo.ID)
	broadcast("workorders", "create", wo.ID)
	handleGetWorkOrder(w, r, wo.ID)
}

func handleUpdateWorkOrder(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Title       *string  `json:"title"`
		Priority    *string  `json:"priority"`
		Notes       *string  `json:"notes"`
		ActualLabor *float64 `json:"actual_labor"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	var exists int
	db.QueryRow("SELECT COUNT(*) FROM work_orders WHERE id = ?", id).Scan(&exists)
	if exists == 0 { jsonErr(w, "not found", 404); return }

	ve := &ValidationErrors{}
	if req.Priority != nil {
		validateEnum(ve, "priority", *req.Priority, woPriorities)
	}
	if req.ActualLabor != nil {
		validateNonNegativeFloat(ve, "actual_labor", *req.ActualLabor)
	}
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	if req.Title != nil { db.Exec("UPDATE work_orders SET title = ? WHERE id = ?", *req.Title, id) }
	if req.Priority != nil { db.Exec("UPDATE work_orders SET priority = ? WHERE id = ?", *req.Priority, id) }
	if req.Notes != nil { db.Exec("UPDATE work_orders SET notes = ? WHERE id = ?", *req.Notes, id) }
	if req.ActualLabor != nil { db.Exec("UPDATE work_orders SET actual_labor = ? WHERE id = ?", *req.ActualLabor, id) }

	logAudit(db, getUsername(r), AuditActionUpdate, "workorders", id, "Updated work order")
	broadcast("workorders", "update", id)
	handleGetWorkOrder(w, r, id)
}

func handleWorkOrderStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	var current string
	if err := db.QueryRow("SELECT status FROM work_orders WHERE id=?", id).Scan(&current); err != nil {
		jsonErr(w, "not found", 404)
		return
	}
	if !isValidWOTransition(current, req.Status) {
		jsonErr(w, fmt.Sprintf("invalid status transition: %s -> %s", current, req.Status), 409)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	switch req.Status {
	case "in_progress":
		db.Exec("UPDATE work_orders SET status = ?, started_at = ? WHERE id = ?", req.Status, now, id)
	case "completed":
		// Material actuals come from what was recorded as used, at the
		// snapshotted allocation cost.
		var materialCost float64
		db.QueryRow("SELECT COALESCE(SUM(qty_used * unit_cost), 0) FROM job_materials WHERE work_order_id = ?", id).
			Scan(&materialCost)
		db.Exec("UPDATE work_orders SET status = ?, completed_at = ?, actual_material = ? WHERE id = ?",
			req.Status, now, materialCost, id)
	default:
		db.Exec("UPDATE work_orders SET status = ? WHERE id = ?", req.Status, id)
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "workorders", id,
		fmt.Sprintf("Status %s -> %s", current, req.Status))
	broadcast("workorders", "update", id)
	handleGetWorkOrder(w, r, id)
}

func handleAddSchedule(w http.ResponseWriter, r *http.Request, workOrderID string) {
	var s WorkOrderSchedule
	if err := decodeBody(r, &s); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "date", s.Date)
	validateDate(ve, "date", s.Date)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	var exists int
	db.QueryRow("SELECT COUNT(*) FROM work_orders WHERE id = ?", workOrderID).Scan(&exists)
	if exists == 0 { jsonErr(w, "work order not found", 404); return }

	tx, err := db.Begin()
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO work_order_schedules (work_order_id, date, start_time, end_time, crew_lead, notes)
		VALUES (?,?,?,?,?,?)`, workOrderID, s.Date, s.StartTime, s.EndTime, s.CrewLead, s.Notes)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	scheduleID, _ := res.LastInsertId()

	for _, member := range s.Crew {
		if _, err := tx.Exec("INSERT INTO schedule_crew (schedule_id, member) VALUES (?, ?)", scheduleID, member); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	}
	if err := tx.Commit(); err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "workorders", workOrderID,
		fmt.Sprintf("Scheduled %s", s.Date))
	broadcast("workorders", "update", workOrderID)
	jsonResp(w, map[string]interface{}{"schedule_id": scheduleID})
}

func handleDeleteSchedule(w http.ResponseWriter, r *http.Request, workOrderID, scheduleIDStr string) {
	scheduleID, err := strconv.Atoi(scheduleIDStr)
	if err != nil { jsonErr(w, "invalid schedule id", 400); return }

	res, err := db.Exec("DELETE FROM work_order_schedules WHERE id = ? AND work_order_id = ?", scheduleID, workOrderID)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 { jsonErr(w, "schedule not found", 404); return }

	logAudit(db, getUsername(r), AuditActionUpdate, "workorders", workOrderID,
		fmt.Sprintf("Removed schedule %d", scheduleID))
	broadcast("workorders", "update", workOrderID)
	jsonResp(w, map[string]string{"status": "ok"})
}

// handleScheduleCalendar lists scheduled visits in a date range across all
// work orders, for the dispatch board.
func handleScheduleCalendar(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = time.Now().Format("2006-01-02")
	}
	if to == "" {
		to = time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	}

	rows, err := db.Query(`SELECT s.id, s.work_order_id, s.date, COALESCE(s.start_time,''), COALESCE(s.end_time,''),
		COALESCE(s.crew_lead,''), wo.title, wo.status, wo.priority, c.name
		FROM work_order_schedules s
		JOIN work_orders wo ON wo.id = s.work_order_id
		JOIN customers c ON c.id = wo.customer_id
		WHERE s.date >= ? AND s.date <= ? AND wo.status NOT IN ('cancelled','invoiced')
		ORDER BY s.date, s.start_time`, from, to)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	type CalendarEntry struct {
		ScheduleID  int    `json:"schedule_id"`
		WorkOrderID string `json:"work_order_id"`
		Date        string `json:"date"`
		StartTime   string `json:"start_time"`
		EndTime     string `json:"end_time"`
		CrewLead    string `json:"crew_lead"`
		Title       string `json:"title"`
		Status      string `json:"status"`
		Priority    string `json:"priority"`
		Customer    string `json:"customer"`
	}
	var entries []CalendarEntry
	for rows.Next() {
		var e CalendarEntry
		rows.Scan(&e.ScheduleID, &e.WorkOrderID, &e.Date, &e.StartTime, &e.EndTime,
			&e.CrewLead, &e.Title, &e.Status, &e.Priority, &e.Customer)
		entries = append(entries, e)
	}
	if entries == nil { entries = []CalendarEntry{} }
	jsonResp(w, entries)
}

// handleWorkOrderFinancials compares quoted against actuals. Material cost
// uses the snapshotted per-allocation cost, so later catalog price changes
// never rewrite a job's history.
func handleWorkOrderFinancials(w http.ResponseWriter, r *http.Request, id string) {
	var wo WorkOrder
	if err := scanWorkOrder(db.QueryRow(workOrderSelect+" WHERE id=?", id), &wo); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	var materialCost, materialPrice float64
	db.QueryRow(`SELECT COALESCE(SUM(qty_used * unit_cost), 0), COALESCE(SUM(qty_used * unit_price), 0)
		FROM job_materials WHERE work_order_id = ?`, id).Scan(&materialCost, &materialPrice)

	actualCost := wo.ActualLabor + materialCost
	jsonResp(w, map[string]interface{}{
		"work_order_id":  id,
		"quoted_total":   wo.QuotedTotal,
		"actual_labor":   wo.ActualLabor,
		"material_cost":  materialCost,
		"material_price": materialPrice,
		"actual_cost":    actualCost,
		"variance":       wo.QuotedTotal - actualCost,
		"margin_pct":     rollup.MarginPct(wo.QuotedTotal, actualCost),
	})
}
