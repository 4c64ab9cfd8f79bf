package main

import (
	"fmt"
	"net/http"
	"strconv"

	"ecm/internal/auth"
)

type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type UpdateUserRequest struct {
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
	Active      *bool   `json:"active"`
}

var userRoles = []string{"admin", "office", "tech"}

func handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT id, username, COALESCE(display_name,''), role, active,
		failed_login_attempts, COALESCE(locked_until,''), COALESCE(last_login,''), created_at
		FROM users ORDER BY username`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lockedUntil, lastLogin string
		rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Active,
			&u.FailedLoginAttempts, &lockedUntil, &lastLogin, &u.CreatedAt)
		if lockedUntil != "" {
			u.LockedUntil = &lockedUntil
		}
		if lastLogin != "" {
			u.LastLogin = &lastLogin
		}
		users = append(users, u)
	}
	if users == nil {
		users = []User{}
	}
	jsonResp(w, users)
}

func handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, "Invalid request body", 400)
		return
	}

	ve := &ValidationErrors{}
	requireField(ve, "username", req.Username)
	validateEnum(ve, "role", req.Role, userRoles)
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		ve.Add("password", err.Error())
	}
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}
	if req.Role == "" {
		req.Role = "tech"
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonErr(w, "Failed to hash password", 500)
		return
	}

	res, err := db.Exec("INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)",
		req.Username, hash, req.DisplayName, req.Role)
	if err != nil {
		jsonErr(w, "Username already exists", 409)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(db, getUsername(r), AuditActionCreate, "users", req.Username, "Created user "+req.Username)
	jsonResp(w, map[string]interface{}{"id": id, "username": req.Username})
}

func handleUpdateUser(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErr(w, "Invalid user id", 400)
		return
	}

	var req UpdateUserRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, "Invalid request body", 400)
		return
	}

	if req.Role != nil {
		ve := &ValidationErrors{}
		validateEnum(ve, "role", *req.Role, userRoles)
		if ve.HasErrors() {
			jsonErr(w, ve.Error(), 400)
			return
		}
	}

	if req.DisplayName != nil {
		db.Exec("UPDATE users SET display_name = ? WHERE id = ?", *req.DisplayName, id)
	}
	if req.Role != nil {
		db.Exec("UPDATE users SET role = ? WHERE id = ?", *req.Role, id)
	}
	if req.Active != nil {
		active := 0
		if *req.Active {
			active = 1
		}
		db.Exec("UPDATE users SET active = ? WHERE id = ?", active, id)
		if active == 0 {
			// Kill live sessions for deactivated accounts
			db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
		}
	}

	logAudit(db, getUsername(r), AuditActionUpdate, "users", idStr, "Updated user")
	jsonResp(w, map[string]string{"status": "ok"})
}

func handleResetPassword(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErr(w, "Invalid user id", 400)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, "Invalid request body", 400)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonErr(w, "Failed to hash password", 500)
		return
	}

	res, err := db.Exec(`UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL WHERE id = ?`, hash, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "User not found", 404)
		return
	}

	db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
	logAudit(db, getUsername(r), AuditActionUpdate, "users", idStr, "Reset password")
	jsonResp(w, map[string]string{"status": "ok"})
}

// handleUnlockUser clears a lockout before its window expires.
func handleUnlockUser(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErr(w, "Invalid user id", 400)
		return
	}
	res, err := db.Exec("UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE id = ?", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "User not found", 404)
		return
	}
	logAudit(db, getUsername(r), AuditActionUpdate, "users", idStr, fmt.Sprintf("Unlocked user %d", id))
	jsonResp(w, map[string]string{"status": "ok"})
}
