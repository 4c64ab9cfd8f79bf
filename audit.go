package main

import (
	"database/sql"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ecm/internal/audit"
)

// Audit action constant aliases for backward compatibility.
const (
	AuditActionCreate  = audit.ActionCreate
	AuditActionUpdate  = audit.ActionUpdate
	AuditActionDelete  = audit.ActionDelete
	AuditActionExport  = audit.ActionExport
	AuditActionLogin   = audit.ActionLogin
	AuditActionLogout  = audit.ActionLogout
	AuditActionConvert = audit.ActionConvert
)

// Wrapper functions delegating to internal/audit, injecting global db and wsHub.
func logAudit(db *sql.DB, username, action, module, recordID, summary string) {
	audit.LogAudit(db, wsHub, username, action, module, recordID, summary)
}

func getUsername(r *http.Request) string {
	return audit.GetUsername(db, r)
}

func getClientIP(r *http.Request) string {
	return audit.GetClientIP(r)
}

type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	module := r.URL.Query().Get("module")
	user := r.URL.Query().Get("user")
	search := r.URL.Query().Get("search")

	var args []interface{}
	var conditions []string
	if module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, module)
	}
	if user != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, user)
	}
	if search != "" {
		conditions = append(conditions, "(summary LIKE ? OR action LIKE ? OR record_id LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	db.QueryRow("SELECT COUNT(*) FROM audit_log"+whereClause, args...).Scan(&total)

	offset := (page - 1) * limit
	query := `SELECT id, COALESCE(username,'system'), action, module, record_id,
		COALESCE(summary,''), created_at
		FROM audit_log` + whereClause + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	queryArgs := append(args, limit, offset)

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var items []AuditEntry
	for rows.Next() {
		var e AuditEntry
		rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt)
		items = append(items, e)
	}
	if items == nil {
		items = []AuditEntry{}
	}
	jsonRespMeta(w, items, total, page, limit)
}

func handleAuditExport(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")

	var args []interface{}
	query := `SELECT id, COALESCE(username,'system'), action, module, record_id,
		COALESCE(summary,''), created_at FROM audit_log`
	if module != "" {
		query += " WHERE module = ?"
		args = append(args, module)
	}
	query += " ORDER BY created_at DESC LIMIT 10000"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	filename := "audit_log_" + time.Now().Format("2006-01-02") + ".csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{"ID", "Username", "Action", "Module", "Record ID", "Summary", "Timestamp"})
	count := 0
	for rows.Next() {
		var id int
		var username, action, mod, recordID, summary, createdAt string
		rows.Scan(&id, &username, &action, &mod, &recordID, &summary, &createdAt)
		writer.Write([]string{strconv.Itoa(id), username, action, mod, recordID, summary, createdAt})
		count++
	}
	logAudit(db, getUsername(r), AuditActionExport, "audit_log", "export",
		"Exported "+strconv.Itoa(count)+" audit entries")
}
