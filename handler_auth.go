package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"ecm/internal/auth"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", 400)
		return
	}

	// Lockout check runs before the password so a locked account gets the
	// same answer for right and wrong passwords.
	locked, err := auth.IsAccountLocked(db, req.Username)
	if err == nil && locked {
		jsonErr(w, "Account temporarily locked due to too many failed login attempts", 423)
		return
	}

	var id int
	var passwordHash, displayName, role string
	var active int
	err = db.QueryRow("SELECT id, password_hash, display_name, role, active FROM users WHERE username = ?", req.Username).
		Scan(&id, &passwordHash, &displayName, &role, &active)
	if err != nil {
		jsonErr(w, "Invalid username or password", 401)
		return
	}

	if !auth.CheckPassword(passwordHash, req.Password) {
		nowLocked, _ := auth.RecordFailedLogin(db, req.Username)
		if nowLocked {
			logAudit(db, req.Username, AuditActionLogin, "users", req.Username, "Account locked after repeated failed logins")
			jsonErr(w, "Account temporarily locked due to too many failed login attempts", 423)
			return
		}
		jsonErr(w, "Invalid username or password", 401)
		return
	}

	if active == 0 {
		jsonErr(w, "Account deactivated", 403)
		return
	}

	auth.ResetFailedLogins(db, req.Username)

	// Clean expired sessions
	db.Exec("DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP")

	// Create session with retry
	var token string
	expires := time.Now().Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		token = generateToken()
		_, err = db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
			token, id, expires.Format("2006-01-02 15:04:05"))
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		jsonErr(w, "Failed to create session", 500)
		return
	}

	db.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", id)
	logAudit(db, req.Username, AuditActionLogin, "users", req.Username, "Logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     "ecm_session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: req.Username, DisplayName: displayName, Role: role},
	})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("ecm_session")
	if err == nil {
		logAudit(db, getUsername(r), AuditActionLogout, "users", "", "Logged out")
		db.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "ecm_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("ecm_session")
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(401)
		json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "code": "UNAUTHORIZED"})
		return
	}

	var id int
	var username, displayName, role string
	err = db.QueryRow(`SELECT u.id, u.username, u.display_name, u.role
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&id, &username, &displayName, &role)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(401)
		json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "code": "UNAUTHORIZED"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: username, DisplayName: displayName, Role: role},
	})
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
