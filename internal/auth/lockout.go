package auth

import (
	"database/sql"
	"time"
)

// Lockout policy defaults; main overrides these from the config file.
var (
	MaxFailedLoginAttempts = 5
	AccountLockoutDuration = 15 * time.Minute
)

// RecordFailedLogin increments the failed login counter and locks the
// account once the attempt limit is reached. It reports whether the
// account is now locked.
func RecordFailedLogin(db *sql.DB, username string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE users SET failed_login_attempts = failed_login_attempts + 1 WHERE username = ?`, username)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, sql.ErrNoRows
	}

	var attempts int
	if err := tx.QueryRow("SELECT failed_login_attempts FROM users WHERE username = ?", username).Scan(&attempts); err != nil {
		return false, err
	}

	locked := attempts >= MaxFailedLoginAttempts
	if locked {
		until := time.Now().Add(AccountLockoutDuration).Format("2006-01-02 15:04:05")
		if _, err := tx.Exec("UPDATE users SET locked_until = ? WHERE username = ?", until, username); err != nil {
			return false, err
		}
	}

	return locked, tx.Commit()
}

// ResetFailedLogins clears the counter and lock after a successful login.
func ResetFailedLogins(db *sql.DB, username string) error {
	_, err := db.Exec(`UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE username = ?`, username)
	return err
}

// IsAccountLocked checks the lazy-expiring lock: past its timestamp the
// lock clears on this read, no background sweep involved.
func IsAccountLocked(db *sql.DB, username string) (bool, error) {
	var lockedUntil *string
	err := db.QueryRow("SELECT locked_until FROM users WHERE username = ?", username).Scan(&lockedUntil)
	if err != nil {
		return false, err
	}
	if lockedUntil == nil {
		return false, nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	}
	var lockTime time.Time
	var parseErr error
	for _, format := range formats {
		lockTime, parseErr = time.Parse(format, *lockedUntil)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return false, nil
	}

	if time.Now().Before(lockTime) {
		return true, nil
	}

	return false, ResetFailedLogins(db, username)
}
