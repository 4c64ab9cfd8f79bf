package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ecm/internal/auth"
)

func loginAttempt(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handleLogin(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "alice", "correct-horse", "office", true)

	w := loginAttempt(t, "alice", "correct-horse")
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == "ecm_session" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a session cookie")
	}

	var sessions int
	db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessions)
	if sessions != 1 {
		t.Errorf("Expected 1 session, got %d", sessions)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "alice", "correct-horse", "office", true)

	w := loginAttempt(t, "alice", "wrong")
	if w.Code != 401 {
		t.Errorf("Expected 401, got %d", w.Code)
	}

	var failed int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username='alice'").Scan(&failed)
	if failed != 1 {
		t.Errorf("Expected 1 failed attempt recorded, got %d", failed)
	}
}

func TestLogin_DeactivatedUser(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "gone", "correct-horse", "tech", false)

	if w := loginAttempt(t, "gone", "correct-horse"); w.Code != 403 {
		t.Errorf("Expected 403 for deactivated user, got %d", w.Code)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "bob", "correct-horse", "tech", true)

	for i := 1; i < auth.MaxFailedLoginAttempts; i++ {
		if w := loginAttempt(t, "bob", "nope-"+strconv.Itoa(i)); w.Code != 401 {
			t.Fatalf("Attempt %d: expected 401, got %d", i, w.Code)
		}
	}
	// The attempt that reaches the threshold answers 423, not 401.
	if w := loginAttempt(t, "bob", "nope-final"); w.Code != 423 {
		t.Fatalf("Expected 423 on lockout, got %d", w.Code)
	}

	// Locked means locked even with the right password.
	if w := loginAttempt(t, "bob", "correct-horse"); w.Code != 423 {
		t.Errorf("Expected 423 for locked account with correct password, got %d", w.Code)
	}

	var lockedUntil string
	db.QueryRow("SELECT COALESCE(locked_until, '') FROM users WHERE username='bob'").Scan(&lockedUntil)
	if lockedUntil == "" {
		t.Error("Expected locked_until to be set")
	}
}

func TestLogin_ExpiredLockClears(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "carol", "correct-horse", "office", true)
	expired := time.Now().Add(-1 * time.Minute).Format("2006-01-02 15:04:05")
	db.Exec("UPDATE users SET failed_login_attempts = ?, locked_until = ? WHERE username='carol'",
		auth.MaxFailedLoginAttempts, expired)

	w := loginAttempt(t, "carol", "correct-horse")
	if w.Code != 200 {
		t.Fatalf("Expected 200 after lock expiry, got %d: %s", w.Code, w.Body.String())
	}

	var failed int
	var lockedUntil string
	db.QueryRow("SELECT failed_login_attempts, COALESCE(locked_until, '') FROM users WHERE username='carol'").
		Scan(&failed, &lockedUntil)
	if failed != 0 || lockedUntil != "" {
		t.Errorf("Expected counters reset after login, got %d / %q", failed, lockedUntil)
	}
}

func TestLogin_SuccessResetsFailedCount(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "dave", "correct-horse", "tech", true)

	loginAttempt(t, "dave", "wrong")
	loginAttempt(t, "dave", "wrong")
	if w := loginAttempt(t, "dave", "correct-horse"); w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var failed int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username='dave'").Scan(&failed)
	if failed != 0 {
		t.Errorf("Expected failed count reset to 0, got %d", failed)
	}
}

func TestLogin_UnknownUserDoesNotLeakLockState(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	if w := loginAttempt(t, "nobody", "whatever"); w.Code != 401 {
		t.Errorf("Expected 401 for unknown user, got %d", w.Code)
	}
}

func TestUnlockUser_ClearsLockEarly(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	id := createTestUser(t, db, "erin", "correct-horse", "office", true)
	until := time.Now().Add(10 * time.Minute).Format("2006-01-02 15:04:05")
	db.Exec("UPDATE users SET failed_login_attempts = ?, locked_until = ? WHERE id = ?",
		auth.MaxFailedLoginAttempts, until, id)

	if w := loginAttempt(t, "erin", "correct-horse"); w.Code != 423 {
		t.Fatalf("Expected 423 before unlock, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/users/"+strconv.Itoa(id)+"/unlock", nil)
	w := httptest.NewRecorder()
	handleUnlockUser(w, req, strconv.Itoa(id))
	if w.Code != 200 {
		t.Fatalf("unlock: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := loginAttempt(t, "erin", "correct-horse"); w.Code != 200 {
		t.Errorf("Expected 200 after unlock, got %d", w.Code)
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	id := createTestUser(t, db, "frank", "correct-horse", "tech", true)
	token := createTestSession(t, db, id)

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "ecm_session", Value: token})
	w := httptest.NewRecorder()
	handleLogout(w, req)
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var sessions int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", token).Scan(&sessions)
	if sessions != 0 {
		t.Errorf("Expected session deleted, found %d", sessions)
	}
}
