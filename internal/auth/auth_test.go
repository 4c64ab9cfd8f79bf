package auth

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite", "file:auth_"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		failed_login_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until TEXT
	)`)
	if err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	if _, err := db.Exec("INSERT INTO users (username) VALUES ('alice')"); err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	return db
}

func TestRecordFailedLogin_LocksAtThreshold(t *testing.T) {
	db := testDB(t)

	for i := 1; i < MaxFailedLoginAttempts; i++ {
		locked, err := RecordFailedLogin(db, "alice")
		if err != nil {
			t.Fatalf("Attempt %d failed: %v", i, err)
		}
		if locked {
			t.Fatalf("Locked too early at attempt %d", i)
		}
	}

	locked, err := RecordFailedLogin(db, "alice")
	if err != nil {
		t.Fatalf("Final attempt failed: %v", err)
	}
	if !locked {
		t.Fatal("Expected lock at the attempt limit")
	}

	isLocked, err := IsAccountLocked(db, "alice")
	if err != nil {
		t.Fatalf("IsAccountLocked failed: %v", err)
	}
	if !isLocked {
		t.Error("Expected account to report locked")
	}
}

func TestRecordFailedLogin_UnknownUser(t *testing.T) {
	db := testDB(t)
	if _, err := RecordFailedLogin(db, "nobody"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

func TestIsAccountLocked_LazyExpiry(t *testing.T) {
	db := testDB(t)

	expired := time.Now().Add(-1 * time.Minute).Format("2006-01-02 15:04:05")
	db.Exec("UPDATE users SET failed_login_attempts = ?, locked_until = ? WHERE username='alice'",
		MaxFailedLoginAttempts, expired)

	locked, err := IsAccountLocked(db, "alice")
	if err != nil {
		t.Fatalf("IsAccountLocked failed: %v", err)
	}
	if locked {
		t.Fatal("Expected expired lock to report unlocked")
	}

	// The expired lock clears on the read itself.
	var attempts int
	var until sql.NullString
	db.QueryRow("SELECT failed_login_attempts, locked_until FROM users WHERE username='alice'").
		Scan(&attempts, &until)
	if attempts != 0 || until.Valid {
		t.Errorf("Expected counters cleared on read, got %d / %v", attempts, until)
	}
}

func TestResetFailedLogins(t *testing.T) {
	db := testDB(t)
	RecordFailedLogin(db, "alice")
	RecordFailedLogin(db, "alice")

	if err := ResetFailedLogins(db, "alice"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	var attempts int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username='alice'").Scan(&attempts)
	if attempts != 0 {
		t.Errorf("Expected 0 attempts after reset, got %d", attempts)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPassword(hash, "hunter2hunter2") {
		t.Error("Expected matching password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Expected wrong password to fail")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"longenough1", true},
		{"Abcdefg1", true},
		{"short1", false},
		{"nodigitshere", false},
		{"12345678", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidatePasswordStrength(c.password)
		if c.ok && err != nil {
			t.Errorf("%q: unexpected error %v", c.password, err)
		}
		if !c.ok && !errors.Is(err, ErrWeakPassword) {
			t.Errorf("%q: expected ErrWeakPassword, got %v", c.password, err)
		}
	}
}
