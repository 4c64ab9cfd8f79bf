package main

import "ecm/internal/models"

// Type aliases for backward compatibility during migration.
// These allow all existing handler code and tests to continue using
// the unqualified type names while the actual definitions live in internal/models.

type APIResponse = models.APIResponse
type Meta = models.Meta
type InventoryItem = models.InventoryItem
type StockMove = models.StockMove
type JobMaterial = models.JobMaterial
type Van = models.Van
type VanStock = models.VanStock
type Customer = models.Customer
type Quote = models.Quote
type QuoteLine = models.QuoteLine
type QuoteTier = models.QuoteTier
type WorkOrder = models.WorkOrder
type WorkOrderSchedule = models.WorkOrderSchedule
type Notification = models.Notification
type User = models.User
