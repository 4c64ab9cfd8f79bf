package main

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// ValidationError represents a structured validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// requireField checks a required string field is non-empty
func requireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// validateEnum checks a field is one of allowed values
func validateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return // only validate if set; combine with requireField if mandatory
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// validateDate checks a field is a valid date (YYYY-MM-DD)
func validateDate(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	_, err := time.Parse("2006-01-02", value)
	if err != nil {
		ve.Add(field, "must be a valid date (YYYY-MM-DD)")
	}
}

// validatePositiveFloat checks a field is > 0
func validatePositiveFloat(ve *ValidationErrors, field string, value float64) {
	if value <= 0 {
		ve.Add(field, "must be a positive number")
	}
}

// validateNonNegativeFloat checks a field is >= 0
func validateNonNegativeFloat(ve *ValidationErrors, field string, value float64) {
	if value < 0 {
		ve.Add(field, "must be non-negative")
	}
}

// validateRange checks a field falls within [min, max]
func validateRange(ve *ValidationErrors, field string, value, min, max float64) {
	if value < min || value > max {
		ve.Add(field, fmt.Sprintf("must be between %g and %g", min, max))
	}
}

// validateEmail checks a field is a valid email (if non-empty)
func validateEmail(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	_, err := mail.ParseAddress(value)
	if err != nil {
		ve.Add(field, "must be a valid email address")
	}
}

// validateForeignKey checks that a referenced record exists
func validateForeignKey(ve *ValidationErrors, field, table, id string) {
	if id == "" {
		return
	}
	var count int
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id=?", table), id).Scan(&count)
	if err != nil || count == 0 {
		ve.Add(field, fmt.Sprintf("references non-existent %s: %s", table, id))
	}
}

// validateSKU checks that a referenced inventory item exists and is active
func validateSKU(ve *ValidationErrors, field, sku string) {
	if sku == "" {
		return
	}
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM inventory_items WHERE sku = ? AND active = 1", sku).Scan(&count)
	if err != nil || count == 0 {
		ve.Add(field, fmt.Sprintf("references unknown or inactive item: %s", sku))
	}
}
