package main

import (
	"net/http"
)

// handleReportInventoryValuation totals warehouse and van stock at cost,
// split by category.
func handleReportInventoryValuation(w http.ResponseWriter, r *http.Request) {
	type CategoryValue struct {
		Category       string  `json:"category"`
		ItemCount      int     `json:"item_count"`
		WarehouseValue float64 `json:"warehouse_value"`
		VanValue       float64 `json:"van_value"`
	}

	rows, err := db.Query(`SELECT COALESCE(i.category,''), COUNT(*),
		SUM(i.qty_on_hand * i.unit_cost),
		COALESCE(SUM((SELECT SUM(vi.qty) FROM van_inventory vi WHERE vi.sku = i.sku) * i.unit_cost), 0)
		FROM inventory_items i WHERE i.active = 1
		GROUP BY i.category ORDER BY i.category`)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	var categories []CategoryValue
	var totalWarehouse, totalVan float64
	for rows.Next() {
		var c CategoryValue
		rows.Scan(&c.Category, &c.ItemCount, &c.WarehouseValue, &c.VanValue)
		totalWarehouse += c.WarehouseValue
		totalVan += c.VanValue
		categories = append(categories, c)
	}
	if categories == nil { categories = []CategoryValue{} }

	jsonResp(w, map[string]interface{}{
		"categories":      categories,
		"warehouse_total": totalWarehouse,
		"van_total":       totalVan,
		"grand_total":     totalWarehouse + totalVan,
	})
}

// handleReportLowStock lists items whose availability is at or below
// minimum, with the suggested reorder.
func handleReportLowStock(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT sku, COALESCE(description,''), qty_on_hand, qty_allocated,
		qty_on_hand - qty_allocated AS available, qty_on_order, min_stock, reorder_qty
		FROM inventory_items
		WHERE active = 1 AND min_stock > 0 AND qty_on_hand - qty_allocated <= min_stock
		ORDER BY (qty_on_hand - qty_allocated) / min_stock`)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	type LowStockItem struct {
		SKU         string  `json:"sku"`
		Description string  `json:"description"`
		QtyOnHand   float64 `json:"qty_on_hand"`
		Allocated   float64 `json:"qty_allocated"`
		Available   float64 `json:"qty_available"`
		OnOrder     float64 `json:"qty_on_order"`
		MinStock    float64 `json:"min_stock"`
		ReorderQty  float64 `json:"reorder_qty"`
	}
	var items []LowStockItem
	for rows.Next() {
		var i LowStockItem
		rows.Scan(&i.SKU, &i.Description, &i.QtyOnHand, &i.Allocated, &i.Available, &i.OnOrder, &i.MinStock, &i.ReorderQty)
		items = append(items, i)
	}
	if items == nil { items = []LowStockItem{} }
	jsonResp(w, items)
}

// handleReportQuotePipeline breaks the open pipeline down by status.
func handleReportQuotePipeline(w http.ResponseWriter, r *http.Request) {
	type StatusBucket struct {
		Status string  `json:"status"`
		Count  int     `json:"count"`
		Value  float64 `json:"value"`
	}

	rows, err := db.Query(`SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM quotes GROUP BY status`)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	buckets := map[string]StatusBucket{}
	for rows.Next() {
		var b StatusBucket
		rows.Scan(&b.Status, &b.Count, &b.Value)
		buckets[b.Status] = b
	}

	ordered := []StatusBucket{}
	for _, s := range []string{"draft", "sent", "viewed", "approved", "declined", "converted", "expired"} {
		b, ok := buckets[s]
		if !ok {
			b = StatusBucket{Status: s}
		}
		ordered = append(ordered, b)
	}

	var openValue float64
	db.QueryRow(`SELECT COALESCE(SUM(total_amount), 0) FROM quotes WHERE status IN ('sent','viewed','approved')`).Scan(&openValue)

	jsonResp(w, map[string]interface{}{
		"by_status":  ordered,
		"open_value": openValue,
	})
}

// handleReportJobProfitability lists completed and invoiced jobs with
// quoted vs actual cost.
func handleReportJobProfitability(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT wo.id, wo.title, c.name, wo.status, wo.quoted_total, wo.actual_labor,
		COALESCE((SELECT SUM(jm.qty_used * jm.unit_cost) FROM job_materials jm WHERE jm.work_order_id = wo.id), 0)
		FROM work_orders wo JOIN customers c ON c.id = wo.customer_id
		WHERE wo.status IN ('completed','invoiced')
		ORDER BY wo.completed_at DESC`)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	type JobProfit struct {
		WorkOrderID  string  `json:"work_order_id"`
		Title        string  `json:"title"`
		Customer     string  `json:"customer"`
		Status       string  `json:"status"`
		QuotedTotal  float64 `json:"quoted_total"`
		ActualLabor  float64 `json:"actual_labor"`
		MaterialCost float64 `json:"material_cost"`
		Variance     float64 `json:"variance"`
	}
	var jobs []JobProfit
	for rows.Next() {
		var j JobProfit
		rows.Scan(&j.WorkOrderID, &j.Title, &j.Customer, &j.Status, &j.QuotedTotal, &j.ActualLabor, &j.MaterialCost)
		j.Variance = j.QuotedTotal - j.ActualLabor - j.MaterialCost
		jobs = append(jobs, j)
	}
	if jobs == nil { jobs = []JobProfit{} }
	jsonResp(w, jobs)
}

// handleDashboard summarizes the business at a glance.
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	var lowStock, openQuotes, activeJobs, unreadNotifs int
	var pipelineValue float64

	db.QueryRow(`SELECT COUNT(*) FROM inventory_items
		WHERE active = 1 AND min_stock > 0 AND qty_on_hand - qty_allocated <= min_stock`).Scan(&lowStock)
	db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(total_amount), 0) FROM quotes
		WHERE status IN ('sent','viewed','approved')`).Scan(&openQuotes, &pipelineValue)
	db.QueryRow(`SELECT COUNT(*) FROM work_orders WHERE status IN ('scheduled','in_progress')`).Scan(&activeJobs)
	db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE read_at IS NULL`).Scan(&unreadNotifs)

	jsonResp(w, map[string]interface{}{
		"low_stock_items":      lowStock,
		"open_quotes":          openQuotes,
		"pipeline_value":       pipelineValue,
		"active_work_orders":   activeJobs,
		"unread_notifications": unreadNotifs,
	})
}
