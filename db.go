package main

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var db *sql.DB

func initDB(path string) error {
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set WAL mode (some drivers don't parse connection string params correctly)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY, name TEXT NOT NULL,
			email TEXT DEFAULT '', phone TEXT DEFAULT '',
			address TEXT DEFAULT '', notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			sku TEXT PRIMARY KEY,
			description TEXT DEFAULT '', category TEXT DEFAULT '', unit TEXT DEFAULT 'ea',
			qty_on_hand REAL DEFAULT 0 CHECK(qty_on_hand >= 0),
			qty_allocated REAL DEFAULT 0 CHECK(qty_allocated >= 0 AND qty_allocated <= qty_on_hand),
			qty_on_order REAL DEFAULT 0 CHECK(qty_on_order >= 0),
			min_stock REAL DEFAULT 0 CHECK(min_stock >= 0),
			reorder_qty REAL DEFAULT 0 CHECK(reorder_qty >= 0),
			unit_cost REAL DEFAULT 0 CHECK(unit_cost >= 0),
			unit_price REAL DEFAULT 0 CHECK(unit_price >= 0),
			location TEXT DEFAULT '',
			active INTEGER DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS stock_moves (
			id INTEGER PRIMARY KEY AUTOINCREMENT, sku TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('receive','consume','adjust','transfer','return','import')),
			qty REAL NOT NULL, reference TEXT DEFAULT '', notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS work_orders (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			quote_id TEXT DEFAULT '',
			title TEXT NOT NULL,
			status TEXT DEFAULT 'draft' CHECK(status IN ('draft','scheduled','in_progress','completed','invoiced','cancelled')),
			priority TEXT DEFAULT 'normal' CHECK(priority IN ('low','normal','high','emergency')),
			quoted_total REAL DEFAULT 0,
			actual_labor REAL DEFAULT 0,
			actual_material REAL DEFAULT 0,
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME, completed_at DATETIME,
			FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS job_materials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			work_order_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			qty_needed REAL NOT NULL DEFAULT 0 CHECK(qty_needed >= 0),
			qty_allocated REAL NOT NULL DEFAULT 0 CHECK(qty_allocated >= 0),
			qty_used REAL NOT NULL DEFAULT 0 CHECK(qty_used >= 0),
			qty_returned REAL NOT NULL DEFAULT 0 CHECK(qty_returned >= 0),
			status TEXT DEFAULT 'planned' CHECK(status IN ('planned','checking','allocated','used','returned')),
			unit_cost REAL DEFAULT 0,
			unit_price REAL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (work_order_id) REFERENCES work_orders(id) ON DELETE CASCADE,
			FOREIGN KEY (sku) REFERENCES inventory_items(sku) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS vans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			technician TEXT DEFAULT '',
			active INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS van_inventory (
			van_id INTEGER NOT NULL,
			sku TEXT NOT NULL,
			qty REAL NOT NULL DEFAULT 0 CHECK(qty >= 0),
			min_qty REAL NOT NULL DEFAULT 0 CHECK(min_qty >= 0),
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (van_id, sku),
			FOREIGN KEY (van_id) REFERENCES vans(id) ON DELETE CASCADE,
			FOREIGN KEY (sku) REFERENCES inventory_items(sku) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			title TEXT DEFAULT '',
			status TEXT DEFAULT 'draft' CHECK(status IN ('draft','sent','viewed','approved','declined','converted','expired')),
			selected_tier TEXT DEFAULT '' CHECK(selected_tier IN ('','basic','standard','premium')),
			discount_percent REAL DEFAULT 0 CHECK(discount_percent >= 0 AND discount_percent <= 100),
			tax_rate REAL DEFAULT 0 CHECK(tax_rate >= 0),
			labor_subtotal REAL DEFAULT 0,
			material_subtotal REAL DEFAULT 0,
			other_charges REAL DEFAULT 0,
			subtotal REAL DEFAULT 0,
			discount_amount REAL DEFAULT 0,
			tax_amount REAL DEFAULT 0,
			total_amount REAL DEFAULT 0,
			notes TEXT DEFAULT '',
			valid_until DATE,
			work_order_id TEXT,
			converted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE RESTRICT
		)`,
		`CREATE TABLE IF NOT EXISTS quote_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			quote_id TEXT NOT NULL,
			sku TEXT DEFAULT '',
			description TEXT DEFAULT '',
			item_type TEXT NOT NULL DEFAULT 'material' CHECK(item_type IN ('labor','material','other')),
			qty REAL NOT NULL CHECK(qty > 0),
			unit_price REAL NOT NULL DEFAULT 0 CHECK(unit_price >= 0),
			tier_basic INTEGER DEFAULT 1,
			tier_standard INTEGER DEFAULT 1,
			tier_premium INTEGER DEFAULT 1,
			FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS quote_tiers (
			quote_id TEXT NOT NULL,
			tier TEXT NOT NULL CHECK(tier IN ('basic','standard','premium')),
			subtotal REAL DEFAULT 0,
			discount_amount REAL DEFAULT 0,
			tax_amount REAL DEFAULT 0,
			total_amount REAL DEFAULT 0,
			PRIMARY KEY (quote_id, tier),
			FOREIGN KEY (quote_id) REFERENCES quotes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS work_order_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			work_order_id TEXT NOT NULL,
			date DATE NOT NULL,
			start_time TEXT DEFAULT '',
			end_time TEXT DEFAULT '',
			crew_lead TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			FOREIGN KEY (work_order_id) REFERENCES work_orders(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_crew (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			member TEXT NOT NULL,
			FOREIGN KEY (schedule_id) REFERENCES work_order_schedules(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			role TEXT DEFAULT 'tech',
			active INTEGER DEFAULT 1,
			failed_login_attempts INTEGER DEFAULT 0,
			locked_until DATETIME,
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			username TEXT DEFAULT 'system',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info',
			title TEXT NOT NULL,
			message TEXT DEFAULT '',
			record_id TEXT DEFAULT '',
			module TEXT DEFAULT '',
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_imports (
			id TEXT PRIMARY KEY,
			filename TEXT DEFAULT '',
			item_count INTEGER DEFAULT 0,
			imported_by TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, t)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_inventory_items_category ON inventory_items(category)",
		"CREATE INDEX IF NOT EXISTS idx_inventory_items_active ON inventory_items(active)",
		"CREATE INDEX IF NOT EXISTS idx_stock_moves_sku ON stock_moves(sku)",
		"CREATE INDEX IF NOT EXISTS idx_stock_moves_created_at ON stock_moves(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_job_materials_wo ON job_materials(work_order_id)",
		"CREATE INDEX IF NOT EXISTS idx_job_materials_sku ON job_materials(sku)",
		"CREATE INDEX IF NOT EXISTS idx_job_materials_status ON job_materials(status)",
		"CREATE INDEX IF NOT EXISTS idx_van_inventory_sku ON van_inventory(sku)",
		"CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(status)",
		"CREATE INDEX IF NOT EXISTS idx_quotes_customer ON quotes(customer_id)",
		"CREATE INDEX IF NOT EXISTS idx_quote_lines_quote_id ON quote_lines(quote_id)",
		"CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(status)",
		"CREATE INDEX IF NOT EXISTS idx_work_orders_customer ON work_orders(customer_id)",
		"CREATE INDEX IF NOT EXISTS idx_wo_schedules_wo ON work_order_schedules(work_order_id)",
		"CREATE INDEX IF NOT EXISTS idx_wo_schedules_date ON work_order_schedules(date)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_module ON audit_log(module)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_record_id ON audit_log(record_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_read_at ON notifications(read_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_record ON notifications(type, record_id)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index creation: %w\nSQL: %s", err, idx)
		}
	}

	return nil
}

func seedDB() {
	// Always ensure admin user exists
	var userCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'admin'").Scan(&userCount)
	if userCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Failed to hash admin password: %v", err)
		} else {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)",
				"admin", string(hash), "Administrator", "admin")
		}
	}

	// Seed office user
	var officeCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'office'").Scan(&officeCount)
	if officeCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err == nil {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, 1)",
				"office", string(hash), "Office Manager", "office")
		}
	}
	// Seed tech user
	var techCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'tech'").Scan(&techCount)
	if techCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err == nil {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, 1)",
				"tech", string(hash), "Field Technician", "tech")
		}
	}

	// Check if already seeded
	var count int
	db.QueryRow("SELECT COUNT(*) FROM inventory_items").Scan(&count)
	if count > 0 {
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	year := time.Now().Format("2006")

	// Customers
	db.Exec(`INSERT INTO customers (id,name,email,phone,address) VALUES (?,?,?,?,?)`,
		"C-"+year+"-001", "Harborview Properties", "maintenance@harborview.example", "555-0101", "1200 Bay St")
	db.Exec(`INSERT INTO customers (id,name,email,phone) VALUES (?,?,?,?)`,
		"C-"+year+"-002", "Wrenfield Bakery", "owner@wrenfield.example", "555-0144")

	// Electrical catalog
	items := []struct {
		sku, desc, cat, unit string
		onHand, minStock     float64
		reorder              float64
		cost, price          float64
		loc                  string
	}{
		{"BRK-20A-1P", "20A single-pole breaker", "breakers", "ea", 40, 10, 30, 4.85, 12.50, "Shelf A-1"},
		{"BRK-50A-2P", "50A double-pole breaker", "breakers", "ea", 12, 4, 10, 18.20, 42.00, "Shelf A-2"},
		{"WIRE-122-NM", "12/2 NM-B cable", "wire", "ft", 2500, 500, 1000, 0.42, 1.10, "Rack B-1"},
		{"WIRE-143-NM", "14/3 NM-B cable", "wire", "ft", 800, 250, 1000, 0.55, 1.35, "Rack B-2"},
		{"EMT-075-10", "3/4in EMT conduit 10ft", "conduit", "ea", 60, 20, 40, 6.10, 14.00, "Rack C-1"},
		{"RCP-20A-TR", "20A tamper-resistant receptacle", "devices", "ea", 150, 40, 100, 2.15, 6.50, "Bin D-3"},
		{"GFCI-20A", "20A GFCI receptacle", "devices", "ea", 35, 10, 30, 14.75, 32.00, "Bin D-4"},
		{"PNL-200A-40", "200A 40-space load center", "panels", "ea", 5, 2, 3, 168.00, 340.00, "Floor E-1"},
	}
	for _, it := range items {
		db.Exec(`INSERT INTO inventory_items
			(sku,description,category,unit,qty_on_hand,min_stock,reorder_qty,unit_cost,unit_price,location,updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			it.sku, it.desc, it.cat, it.unit, it.onHand, it.minStock, it.reorder, it.cost, it.price, it.loc, now)
		db.Exec(`INSERT INTO stock_moves (sku,type,qty,reference,notes,created_at) VALUES (?,?,?,?,?,?)`,
			it.sku, "receive", it.onHand, "SEED", "Initial stock", now)
	}

	// Vans
	db.Exec(`INSERT INTO vans (name,technician) VALUES (?,?)`, "Van 1", "M. Alvarez")
	db.Exec(`INSERT INTO vans (name,technician) VALUES (?,?)`, "Van 2", "D. Okafor")
	db.Exec(`INSERT INTO van_inventory (van_id,sku,qty,min_qty,updated_at) VALUES (1,?,?,?,?)`,
		"RCP-20A-TR", 20, 10, now)
	db.Exec(`UPDATE inventory_items SET qty_on_hand = qty_on_hand - 20 WHERE sku = 'RCP-20A-TR'`)

	// A work order and a quote
	db.Exec(`INSERT INTO work_orders (id,customer_id,title,status,priority,quoted_total) VALUES (?,?,?,?,?,?)`,
		"WO-"+year+"-0001", "C-"+year+"-001", "Unit 4B panel upgrade", "scheduled", "high", 2450.00)
	db.Exec(`INSERT INTO work_order_schedules (work_order_id,date,start_time,end_time,crew_lead) VALUES (?,?,?,?,?)`,
		"WO-"+year+"-0001", time.Now().AddDate(0, 0, 3).Format("2006-01-02"), "08:00", "16:00", "M. Alvarez")

	db.Exec(`INSERT INTO quotes (id,customer_id,title,status,discount_percent,tax_rate,valid_until,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		"Q-"+year+"-001", "C-"+year+"-002", "Kitchen circuit additions", "draft", 0, 0.0625,
		time.Now().AddDate(0, 1, 0).Format("2006-01-02"), now, now)
	db.Exec(`INSERT INTO quote_lines (quote_id,sku,description,item_type,qty,unit_price,tier_basic,tier_standard,tier_premium) VALUES (?,?,?,?,?,?,?,?,?)`,
		"Q-"+year+"-001", "", "Rough-in labor", "labor", 8, 95.00, 1, 1, 1)
	db.Exec(`INSERT INTO quote_lines (quote_id,sku,description,item_type,qty,unit_price,tier_basic,tier_standard,tier_premium) VALUES (?,?,?,?,?,?,?,?,?)`,
		"Q-"+year+"-001", "GFCI-20A", "20A GFCI receptacle", "material", 4, 32.00, 1, 1, 1)
	db.Exec(`INSERT INTO quote_lines (quote_id,sku,description,item_type,qty,unit_price,tier_basic,tier_standard,tier_premium) VALUES (?,?,?,?,?,?,?,?,?)`,
		"Q-"+year+"-001", "PNL-200A-40", "Panel upgrade option", "material", 1, 340.00, 0, 0, 1)
	recalcQuote("Q-" + year + "-001")
}

// recalcQuote runs the rollup outside any caller transaction (seed only).
func recalcQuote(quoteID string) {
	if _, err := recalculateQuoteTotals(db, quoteID); err != nil {
		log.Printf("seed: recalc %s: %v", quoteID, err)
	}
}

// ID generation helpers
func nextID(prefix string, table string, digits int) string {
	year := time.Now().Format("2006")
	pattern := prefix + "-" + year + "-%"
	var maxID sql.NullString
	db.QueryRow("SELECT id FROM "+table+" WHERE id LIKE ? ORDER BY id DESC LIMIT 1", pattern).Scan(&maxID)

	next := 1
	if maxID.Valid {
		parts := strings.Split(maxID.String, "-")
		if len(parts) >= 3 {
			if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
				next = n + 1
			}
		}
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, year, digits, next)
}

func ns(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func sp(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
