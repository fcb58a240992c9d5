package models

import "time"

// Variant selects the column mapping, template set and mail credential set
// used for an order. Fixed at creation.
const (
	VariantStandardMeal = "standard_meal"
	VariantBulkItem     = "bulk_item"
	VariantInvoice      = "invoice"
)

// Order status. Transitions are forward-only: pending -> sent.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Order is a row from the orders table.
type Order struct {
	ID              int64
	Variant         string
	Recipient       string // destination email address
	DisplayName     string // full name from the source row; first token used for display
	ReferenceNumber string // order number / invoice number
	Description     string // item name / invoice description
	RawPickupText   string // free-form pickup time text; member name for invoices
	SendAt          time.Time
	Status          string
	TriggerRef      string // active one-shot trigger id, empty when none
	SubjectOverride string
	BodyOverride    string
	Amount          string // invoice only
	DocumentURL     string // invoice only
}

// CreateOrderInput carries the fields persisted at import time.
type CreateOrderInput struct {
	Variant         string
	Recipient       string
	DisplayName     string
	ReferenceNumber string
	Description     string
	RawPickupText   string
	SendAt          time.Time
	Status          string
	SubjectOverride string
	BodyOverride    string
	Amount          string
	DocumentURL     string
}

// KnownVariant reports whether v is one of the enumerated variants.
func KnownVariant(v string) bool {
	switch v {
	case VariantStandardMeal, VariantBulkItem, VariantInvoice:
		return true
	}
	return false
}
