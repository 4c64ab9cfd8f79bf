package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// InventoryItem is the warehouse stock record for a single SKU.
// QtyAvailable is always derived as QtyOnHand - QtyAllocated; it is never
// stored independently, so it cannot drift.
type InventoryItem struct {
	SKU          string  `json:"sku"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	Unit         string  `json:"unit"`
	QtyOnHand    float64 `json:"qty_on_hand"`
	QtyAllocated float64 `json:"qty_allocated"`
	QtyAvailable float64 `json:"qty_available"`
	QtyOnOrder   float64 `json:"qty_on_order"`
	MinStock     float64 `json:"min_stock"`
	ReorderQty   float64 `json:"reorder_qty"`
	UnitCost     float64 `json:"unit_cost"`
	UnitPrice    float64 `json:"unit_price"`
	Location     string  `json:"location"`
	Active       bool    `json:"active"`
	UpdatedAt    string  `json:"updated_at"`
}

// StockMove is one row of the append-only movement log.
type StockMove struct {
	ID        int     `json:"id"`
	SKU       string  `json:"sku"`
	Type      string  `json:"type"`
	Qty       float64 `json:"qty"`
	Reference string  `json:"reference"`
	Notes     string  `json:"notes"`
	CreatedAt string  `json:"created_at"`
}

// JobMaterial is a per-job reservation against warehouse stock. Unit cost
// and price are snapshotted at allocation time and never updated afterward.
type JobMaterial struct {
	ID           int     `json:"id"`
	WorkOrderID  string  `json:"work_order_id"`
	SKU          string  `json:"sku"`
	QtyNeeded    float64 `json:"qty_needed"`
	QtyAllocated float64 `json:"qty_allocated"`
	QtyUsed      float64 `json:"qty_used"`
	QtyReturned  float64 `json:"qty_returned"`
	Status       string  `json:"status"`
	UnitCost     float64 `json:"unit_cost"`
	UnitPrice    float64 `json:"unit_price"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Van is a mobile inventory location (a service vehicle).
type Van struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Technician string `json:"technician"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

// VanStock is the (van, sku) quantity pool, independent of the warehouse.
type VanStock struct {
	VanID       int     `json:"van_id"`
	SKU         string  `json:"sku"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	MinQty      float64 `json:"min_qty"`
	UpdatedAt   string  `json:"updated_at"`
}

type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Notes     string `json:"notes"`
	CreatedAt string `json:"created_at"`
}

// Quote carries rolled-up monetary fields that are recomputed inside the
// same transaction as any line mutation; they are never edited directly.
type Quote struct {
	ID               string      `json:"id"`
	CustomerID       string      `json:"customer_id"`
	Title            string      `json:"title"`
	Status           string      `json:"status"`
	SelectedTier     string      `json:"selected_tier"`
	DiscountPercent  float64     `json:"discount_percent"`
	TaxRate          float64     `json:"tax_rate"`
	LaborSubtotal    float64     `json:"labor_subtotal"`
	MaterialSubtotal float64     `json:"material_subtotal"`
	OtherCharges     float64     `json:"other_charges"`
	Subtotal         float64     `json:"subtotal"`
	DiscountAmount   float64     `json:"discount_amount"`
	TaxAmount        float64     `json:"tax_amount"`
	TotalAmount      float64     `json:"total_amount"`
	Notes            string      `json:"notes"`
	ValidUntil       string      `json:"valid_until"`
	WorkOrderID      *string     `json:"work_order_id"`
	ConvertedAt      *string     `json:"converted_at"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
	Lines            []QuoteLine `json:"lines,omitempty"`
	Tiers            []QuoteTier `json:"tiers,omitempty"`
}

// QuoteLine is one item on a quote, tagged with the pricing tiers it
// belongs to (good/better/best bundles).
type QuoteLine struct {
	ID           int     `json:"id"`
	QuoteID      string  `json:"quote_id"`
	SKU          string  `json:"sku"`
	Description  string  `json:"description"`
	ItemType     string  `json:"item_type"`
	Qty          float64 `json:"qty"`
	UnitPrice    float64 `json:"unit_price"`
	TierBasic    bool    `json:"tier_basic"`
	TierStandard bool    `json:"tier_standard"`
	TierPremium  bool    `json:"tier_premium"`
}

// QuoteTier holds the rolled-up totals for one pricing tier of a quote.
type QuoteTier struct {
	QuoteID        string  `json:"quote_id"`
	Tier           string  `json:"tier"`
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	TotalAmount    float64 `json:"total_amount"`
}

type WorkOrder struct {
	ID             string              `json:"id"`
	CustomerID     string              `json:"customer_id"`
	QuoteID        string              `json:"quote_id"`
	Title          string              `json:"title"`
	Status         string              `json:"status"`
	Priority       string              `json:"priority"`
	QuotedTotal    float64             `json:"quoted_total"`
	ActualLabor    float64             `json:"actual_labor"`
	ActualMaterial float64             `json:"actual_material"`
	Notes          string              `json:"notes"`
	CreatedAt      string              `json:"created_at"`
	StartedAt      *string             `json:"started_at"`
	CompletedAt    *string             `json:"completed_at"`
	Materials      []JobMaterial       `json:"materials,omitempty"`
	Schedules      []WorkOrderSchedule `json:"schedules,omitempty"`
}

// WorkOrderSchedule is one dated site visit with its crew. Crew members are
// typed rows, not a JSON blob.
type WorkOrderSchedule struct {
	ID          int      `json:"id"`
	WorkOrderID string   `json:"work_order_id"`
	Date        string   `json:"date"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	CrewLead    string   `json:"crew_lead"`
	Crew        []string `json:"crew"`
	Notes       string   `json:"notes"`
}

type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	RecordID  string  `json:"record_id"`
	Module    string  `json:"module"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

type User struct {
	ID                  int     `json:"id"`
	Username            string  `json:"username"`
	DisplayName         string  `json:"display_name"`
	Role                string  `json:"role"`
	Active              bool    `json:"active"`
	FailedLoginAttempts int     `json:"failed_login_attempts"`
	LockedUntil         *string `json:"locked_until"`
	LastLogin           *string `json:"last_login"`
	CreatedAt           string  `json:"created_at"`
}
