// Package audit writes the append-only audit trail and resolves the
// acting user from the request session.
package audit

import (
	"database/sql"
	"log"
	"net/http"
	"strings"

	"ecm/internal/websocket"
)

// Action constants.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionExport  = "EXPORT"
	ActionLogin   = "LOGIN"
	ActionLogout  = "LOGOUT"
	ActionConvert = "CONVERT"
)

// LogAudit records an audit entry and broadcasts the change to connected
// clients. Audit failures are logged, never fatal to the operation.
func LogAudit(db *sql.DB, hub *websocket.Hub, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		log.Printf("audit log error: %v", err)
	}
	if hub != nil {
		hub.Broadcast(websocket.Event{
			Type:   module,
			ID:     recordID,
			Action: strings.ToLower(action),
		})
	}
}

// GetUsername extracts the username from a session cookie, falling back to
// "system" for unauthenticated internal callers.
func GetUsername(db *sql.DB, r *http.Request) string {
	cookie, err := r.Cookie("ecm_session")
	if err != nil {
		return "system"
	}
	var username string
	err = db.QueryRow("SELECT u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).Scan(&username)
	if err != nil {
		return "system"
	}
	return username
}

// GetUserContext extracts user id and name from the request session.
func GetUserContext(r *http.Request, db *sql.DB) (userID int, username string) {
	cookie, err := r.Cookie("ecm_session")
	if err != nil {
		return 0, "system"
	}
	err = db.QueryRow("SELECT u.id, u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).
		Scan(&userID, &username)
	if err != nil {
		return 0, "system"
	}
	return userID, username
}

// GetClientIP extracts the real client IP from the request (handles proxies).
func GetClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
