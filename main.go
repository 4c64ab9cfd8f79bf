package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"ecm/internal/auth"
)

var companyName string
var companyEmail string
var appConfig Config

func main() {
	port := flag.Int("port", 9000, "HTTP port")
	dbPath := flag.String("db", "ecm.db", "SQLite database path")
	configPath := flag.String("config", "ecm.yaml", "Policy config path")
	flag.Parse()

	companyName = os.Getenv("ECM_COMPANY_NAME")
	if companyName == "" {
		companyName = "Your Company"
	}
	companyEmail = os.Getenv("ECM_COMPANY_EMAIL")
	if companyEmail == "" {
		companyEmail = "office@example.com"
	}

	appConfig = loadConfig(*configPath)
	auth.MaxFailedLoginAttempts = appConfig.MaxLoginAttempts
	auth.AccountLockoutDuration = time.Duration(appConfig.LockoutMinutes) * time.Minute

	if err := initDB(*dbPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()

	// Background sweep: low stock, van restock, quote expiry
	go func() {
		time.Sleep(5 * time.Second)
		generateNotifications()
		for {
			time.Sleep(time.Duration(appConfig.NotifyIntervalMinutes) * time.Minute)
			generateNotifications()
		}
	}()

	mux := http.NewServeMux()

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "static/index.html")
	})

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", handleMe)

	mux.HandleFunc("/ws", handleWebSocket)

	// API routes - using a simple router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Dashboard
		case path == "dashboard" && r.Method == "GET":
			handleDashboard(w, r)

		// Inventory
		case parts[0] == "items" && len(parts) == 1 && r.Method == "GET":
			handleListInventory(w, r)
		case parts[0] == "items" && len(parts) == 1 && r.Method == "POST":
			handleCreateInventoryItem(w, r)
		case parts[0] == "items" && len(parts) == 2 && parts[1] == "import" && r.Method == "POST":
			handleImportCatalog(w, r)
		case parts[0] == "items" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			handleExportInventory(w, r)
		case parts[0] == "items" && len(parts) == 2 && r.Method == "GET":
			handleGetInventoryItem(w, r, parts[1])
		case parts[0] == "items" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateInventoryItem(w, r, parts[1])
		case parts[0] == "items" && len(parts) == 2 && r.Method == "DELETE":
			handleDeactivateInventoryItem(w, r, parts[1])
		case parts[0] == "items" && len(parts) == 3 && parts[2] == "transact" && r.Method == "POST":
			handleInventoryTransact(w, r, parts[1])
		case parts[0] == "items" && len(parts) == 3 && parts[2] == "history" && r.Method == "GET":
			handleInventoryHistory(w, r, parts[1])

		// Allocations
		case parts[0] == "allocations" && len(parts) == 3 && parts[2] == "consume" && r.Method == "POST":
			handleConsumeMaterial(w, r, parts[1])
		case parts[0] == "allocations" && len(parts) == 3 && parts[2] == "release" && r.Method == "POST":
			handleReleaseMaterial(w, r, parts[1])

		// Vans
		case parts[0] == "vans" && len(parts) == 1 && r.Method == "GET":
			handleListVans(w, r)
		case parts[0] == "vans" && len(parts) == 1 && r.Method == "POST":
			handleCreateVan(w, r)
		case parts[0] == "vans" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateVan(w, r, parts[1])
		case parts[0] == "vans" && len(parts) == 3 && parts[2] == "stock" && r.Method == "GET":
			handleVanStock(w, r, parts[1])
		case parts[0] == "vans" && len(parts) == 3 && parts[2] == "transfer" && r.Method == "POST":
			handleVanTransfer(w, r, parts[1])
		case parts[0] == "vans" && len(parts) == 3 && parts[2] == "use" && r.Method == "POST":
			handleVanUse(w, r, parts[1])
		case parts[0] == "vans" && len(parts) == 3 && parts[2] == "restock" && r.Method == "GET":
			handleVanRestock(w, r, parts[1])
		case parts[0] == "vans" && len(parts) == 3 && parts[2] == "min" && r.Method == "PUT":
			handleSetVanMin(w, r, parts[1])

		// Customers
		case parts[0] == "customers" && len(parts) == 1 && r.Method == "GET":
			handleListCustomers(w, r)
		case parts[0] == "customers" && len(parts) == 1 && r.Method == "POST":
			handleCreateCustomer(w, r)
		case parts[0] == "customers" && len(parts) == 2 && r.Method == "GET":
			handleGetCustomer(w, r, parts[1])
		case parts[0] == "customers" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateCustomer(w, r, parts[1])
		case parts[0] == "customers" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteCustomer(w, r, parts[1])

		// Quotes
		case parts[0] == "quotes" && len(parts) == 1 && r.Method == "GET":
			handleListQuotes(w, r)
		case parts[0] == "quotes" && len(parts) == 1 && r.Method == "POST":
			handleCreateQuote(w, r)
		case parts[0] == "quotes" && len(parts) == 2 && parts[1] == "expire" && r.Method == "POST":
			handleExpireQuotes(w, r)
		case parts[0] == "quotes" && len(parts) == 2 && r.Method == "GET":
			handleGetQuote(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateQuote(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteQuote(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "lines" && r.Method == "POST":
			handleAddQuoteLine(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 4 && parts[2] == "lines" && r.Method == "PUT":
			handleUpdateQuoteLine(w, r, parts[1], parts[3])
		case parts[0] == "quotes" && len(parts) == 4 && parts[2] == "lines" && r.Method == "DELETE":
			handleDeleteQuoteLine(w, r, parts[1], parts[3])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "status" && r.Method == "POST":
			handleQuoteStatus(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "tier" && r.Method == "POST":
			handleSelectQuoteTier(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "convert" && r.Method == "POST":
			handleConvertQuote(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "cost" && r.Method == "GET":
			handleQuoteCost(w, r, parts[1])
		case parts[0] == "quotes" && len(parts) == 3 && parts[2] == "export" && r.Method == "GET":
			handleExportQuote(w, r, parts[1])

		// Work orders
		case parts[0] == "workorders" && len(parts) == 1 && r.Method == "GET":
			handleListWorkOrders(w, r)
		case parts[0] == "workorders" && len(parts) == 1 && r.Method == "POST":
			handleCreateWorkOrder(w, r)
		case parts[0] == "workorders" && len(parts) == 2 && r.Method == "GET":
			handleGetWorkOrder(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateWorkOrder(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 3 && parts[2] == "status" && r.Method == "POST":
			handleWorkOrderStatus(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 3 && parts[2] == "reserve" && r.Method == "POST":
			handleReserveMaterial(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 3 && parts[2] == "materials" && r.Method == "GET":
			handleListWorkOrderMaterials(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 3 && parts[2] == "schedules" && r.Method == "POST":
			handleAddSchedule(w, r, parts[1])
		case parts[0] == "workorders" && len(parts) == 4 && parts[2] == "schedules" && r.Method == "DELETE":
			handleDeleteSchedule(w, r, parts[1], parts[3])
		case parts[0] == "workorders" && len(parts) == 3 && parts[2] == "financials" && r.Method == "GET":
			handleWorkOrderFinancials(w, r, parts[1])

		// Schedule calendar
		case path == "schedule" && r.Method == "GET":
			handleScheduleCalendar(w, r)

		// Reports
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "inventory-valuation":
			handleReportInventoryValuation(w, r)
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "low-stock":
			handleReportLowStock(w, r)
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "quote-pipeline":
			handleReportQuotePipeline(w, r)
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "job-profitability":
			handleReportJobProfitability(w, r)

		// Notifications
		case parts[0] == "notifications" && len(parts) == 1 && r.Method == "GET":
			handleListNotifications(w, r)
		case parts[0] == "notifications" && len(parts) == 3 && parts[2] == "read" && r.Method == "POST":
			handleMarkNotificationRead(w, r, parts[1])

		// Users (admin only, enforced by requireRBAC)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
			handleListUsers(w, r)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
			handleCreateUser(w, r)
		case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 3 && parts[2] == "password" && r.Method == "POST":
			handleResetPassword(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 3 && parts[2] == "unlock" && r.Method == "POST":
			handleUnlockUser(w, r, parts[1])

		// Audit
		case parts[0] == "audit" && len(parts) == 1 && r.Method == "GET":
			handleAuditLog(w, r)
		case parts[0] == "audit" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			handleAuditExport(w, r)

		default:
			w.WriteHeader(404)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("ECM server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(requireRBAC(mux)))))
}

func jsonResp(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(APIResponse{Data: data})
}

func jsonRespMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	json.NewEncoder(w).Encode(APIResponse{Data: data, Meta: &Meta{Total: total, Page: page, Limit: limit}})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
