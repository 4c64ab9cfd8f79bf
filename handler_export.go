package main

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/xuri/excelize/v2"
)

func exportCSV(w http.ResponseWriter, filename string, headers []string, data [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		http.Error(w, "Failed to write CSV headers", 500)
		return
	}
	for _, row := range data {
		if err := writer.Write(row); err != nil {
			http.Error(w, "Failed to write CSV row", 500)
			return
		}
	}
}

func exportExcel(w http.ResponseWriter, sheetName string, headers []string, data [][]string) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		http.Error(w, "Failed to create Excel sheet", 500)
		return
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		http.Error(w, "Failed to create header style", 500)
		return
	}

	for i, header := range headers {
		cell := fmt.Sprintf("%s1", string(rune('A'+i)))
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	for rowIdx, row := range data {
		for colIdx, value := range row {
			cell := fmt.Sprintf("%s%d", string(rune('A'+colIdx)), rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}
	for i := range headers {
		col := string(rune('A' + i))
		f.SetColWidth(sheetName, col, col, 15)
	}
	if sheetName != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", strings.ToLower(sheetName)))

	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write Excel file", 500)
		return
	}
}

func handleExportInventory(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	query := `SELECT sku, COALESCE(description,''), COALESCE(category,''), qty_on_hand, qty_allocated,
		qty_on_hand - qty_allocated, min_stock, unit_cost, unit_price, COALESCE(location,''), updated_at
		FROM inventory_items WHERE active = 1`
	if r.URL.Query().Get("low_stock") == "true" {
		query += " AND qty_on_hand - qty_allocated <= min_stock AND min_stock > 0"
	}
	query += " ORDER BY sku"

	rows, err := db.Query(query)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()

	headers := []string{"SKU", "Description", "Category", "On Hand", "Allocated", "Available", "Min Stock", "Unit Cost", "Unit Price", "Location", "Updated At"}
	var data [][]string
	for rows.Next() {
		var sku, desc, category, location, updatedAt string
		var onHand, allocated, available, minStock, cost, price float64
		rows.Scan(&sku, &desc, &category, &onHand, &allocated, &available, &minStock, &cost, &price, &location, &updatedAt)
		data = append(data, []string{
			sku, desc, category,
			fmt.Sprintf("%.2f", onHand), fmt.Sprintf("%.2f", allocated), fmt.Sprintf("%.2f", available),
			fmt.Sprintf("%.2f", minStock), fmt.Sprintf("%.2f", cost), fmt.Sprintf("%.2f", price),
			location, updatedAt,
		})
	}

	logAudit(db, getUsername(r), AuditActionExport, "inventory", "export",
		fmt.Sprintf("Exported %d inventory rows as %s", len(data), format))

	if format == "xlsx" {
		exportExcel(w, "Inventory", headers, data)
	} else {
		exportCSV(w, "inventory.csv", headers, data)
	}
}

// handleExportQuote writes a customer-facing quote workbook: one sheet with
// the header and lines, plus a sheet per priced tier.
func handleExportQuote(w http.ResponseWriter, r *http.Request, id string) {
	var q Quote
	if err := scanQuote(db.QueryRow(quoteSelect+" WHERE id=?", id), &q); err != nil {
		jsonErr(w, "not found", 404)
		return
	}

	var customerName string
	db.QueryRow("SELECT name FROM customers WHERE id = ?", q.CustomerID).Scan(&customerName)

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Quote"
	index, err := f.NewSheet(sheet)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	f.SetActiveSheet(index)

	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	f.SetCellValue(sheet, "A1", companyName)
	f.SetCellStyle(sheet, "A1", "A1", bold)
	f.SetCellValue(sheet, "A2", "Quote "+q.ID)
	f.SetCellValue(sheet, "A3", "Customer: "+customerName)
	f.SetCellValue(sheet, "A4", "Valid until: "+q.ValidUntil)

	row := 6
	for i, h := range []string{"Description", "Type", "Qty", "Unit Price", "Extended"} {
		cell := fmt.Sprintf("%s%d", string(rune('A'+i)), row)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, bold)
	}

	lines, err := db.Query(`SELECT COALESCE(description,''), item_type, qty, unit_price
		FROM quote_lines WHERE quote_id = ? ORDER BY id`, id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer lines.Close()
	for lines.Next() {
		row++
		var desc, itemType string
		var qty, price float64
		lines.Scan(&desc, &itemType, &qty, &price)
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), desc)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), itemType)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), qty)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), price)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), qty*price)
	}

	row += 2
	totals := [][2]interface{}{
		{"Subtotal", q.Subtotal},
		{fmt.Sprintf("Discount (%.1f%%)", q.DiscountPercent), q.DiscountAmount},
		{"Tax", q.TaxAmount},
		{"Total", q.TotalAmount},
	}
	for _, t := range totals {
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), t[0])
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), t[1])
		row++
	}

	// One summary sheet per tier that has lines.
	trows, _ := db.Query(`SELECT tier, subtotal, discount_amount, tax_amount, total_amount
		FROM quote_tiers WHERE quote_id = ?
		ORDER BY CASE tier WHEN 'basic' THEN 0 WHEN 'standard' THEN 1 ELSE 2 END`, id)
	if trows != nil {
		defer trows.Close()
		for trows.Next() {
			var tier string
			var sub, disc, tax, total float64
			trows.Scan(&tier, &sub, &disc, &tax, &total)
			name := "Tier " + strings.Title(tier)
			f.NewSheet(name)
			f.SetCellValue(name, "A1", name)
			f.SetCellStyle(name, "A1", "A1", bold)
			f.SetCellValue(name, "A3", "Subtotal")
			f.SetCellValue(name, "B3", sub)
			f.SetCellValue(name, "A4", "Discount")
			f.SetCellValue(name, "B4", disc)
			f.SetCellValue(name, "A5", "Tax")
			f.SetCellValue(name, "B5", tax)
			f.SetCellValue(name, "A6", "Total")
			f.SetCellValue(name, "B6", total)
		}
	}

	f.DeleteSheet("Sheet1")
	f.SetColWidth(sheet, "A", "A", 40)
	f.SetColWidth(sheet, "B", "E", 14)

	logAudit(db, getUsername(r), AuditActionExport, "quotes", id, "Exported quote workbook")

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", strings.ToLower(id)))
	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write Excel file", 500)
	}
}
