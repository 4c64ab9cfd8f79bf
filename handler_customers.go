package main

import (
	"net/http"
)

func handleListCustomers(w http.ResponseWriter, r *http.Request) {
	query := "SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(address,''), COALESCE(notes,''), created_at FROM customers"
	var args []interface{}
	if search := r.URL.Query().Get("search"); search != "" {
		query += " WHERE name LIKE ? OR email LIKE ? OR phone LIKE ?"
		s := "%" + search + "%"
		args = append(args, s, s, s)
	}
	query += " ORDER BY name"

	rows, err := db.Query(query, args...)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	defer rows.Close()
	var customers []Customer
	for rows.Next() {
		var c Customer
		rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes, &c.CreatedAt)
		customers = append(customers, c)
	}
	if customers == nil { customers = []Customer{} }
	jsonResp(w, customers)
}

func handleGetCustomer(w http.ResponseWriter, r *http.Request, id string) {
	var c Customer
	err := db.QueryRow("SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(address,''), COALESCE(notes,''), created_at FROM customers WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes, &c.CreatedAt)
	if err != nil { jsonErr(w, "not found", 404); return }
	jsonResp(w, c)
}

func handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var c Customer
	if err := decodeBody(r, &c); err != nil { jsonErr(w, "invalid body", 400); return }

	ve := &ValidationErrors{}
	requireField(ve, "name", c.Name)
	validateEmail(ve, "email", c.Email)
	if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }

	c.ID = nextID("C", "customers", 3)
	_, err := db.Exec("INSERT INTO customers (id, name, email, phone, address, notes) VALUES (?,?,?,?,?,?)",
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.Notes)
	if err != nil { jsonErr(w, err.Error(), 500); return }

	logAudit(db, getUsername(r), AuditActionCreate, "customers", c.ID, "Created customer "+c.Name)
	broadcast("customers", "create", c.ID)
	handleGetCustomer(w, r, c.ID)
}

func handleUpdateCustomer(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Name    *string `json:"name"`
		Email   *string `json:"email"`
		Phone   *string `json:"phone"`
		Address *string `json:"address"`
		Notes   *string `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil { jsonErr(w, "invalid body", 400); return }

	if req.Email != nil {
		ve := &ValidationErrors{}
		validateEmail(ve, "email", *req.Email)
		if ve.HasErrors() { jsonErr(w, ve.Error(), 400); return }
	}

	if req.Name != nil { db.Exec("UPDATE customers SET name = ? WHERE id = ?", *req.Name, id) }
	if req.Email != nil { db.Exec("UPDATE customers SET email = ? WHERE id = ?", *req.Email, id) }
	if req.Phone != nil { db.Exec("UPDATE customers SET phone = ? WHERE id = ?", *req.Phone, id) }
	if req.Address != nil { db.Exec("UPDATE customers SET address = ? WHERE id = ?", *req.Address, id) }
	if req.Notes != nil { db.Exec("UPDATE customers SET notes = ? WHERE id = ?", *req.Notes, id) }

	logAudit(db, getUsername(r), AuditActionUpdate, "customers", id, "Updated customer")
	broadcast("customers", "update", id)
	handleGetCustomer(w, r, id)
}

func handleDeleteCustomer(w http.ResponseWriter, r *http.Request, id string) {
	// Customers with quotes or jobs on file cannot be removed.
	var refs int
	db.QueryRow(`SELECT (SELECT COUNT(*) FROM quotes WHERE customer_id = ?) +
		(SELECT COUNT(*) FROM work_orders WHERE customer_id = ?)`, id, id).Scan(&refs)
	if refs > 0 {
		jsonErr(w, "customer has quotes or work orders on file", 409)
		return
	}

	res, err := db.Exec("DELETE FROM customers WHERE id = ?", id)
	if err != nil { jsonErr(w, err.Error(), 500); return }
	if n, _ := res.RowsAffected(); n == 0 { jsonErr(w, "not found", 404); return }

	logAudit(db, getUsername(r), AuditActionDelete, "customers", id, "Deleted customer")
	broadcast("customers", "delete", id)
	jsonResp(w, map[string]string{"status": "ok"})
}
