package models

import (
	"fmt"
	"time"
)

type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "draft"
	InvoiceSent  InvoiceStatus = "sent"
	InvoicePaid  InvoiceStatus = "paid"
	InvoiceVoid  InvoiceStatus = "void"
)

/** --------------------ENTITIES-------------------- */
// Invoice bills a client for a coach's services. Amounts are in minor units.
type Invoice struct {
	Base
	Participants
	Number    string        `gorm:"type:varchar(32);index" json:"number"`
	Amount    int64         `gorm:"not null" json:"amount"`
	Currency  string        `gorm:"type:varchar(3);not null;default:USD" json:"currency"`
	Status    InvoiceStatus `gorm:"type:varchar(16);not null;default:draft" json:"status"`
	LineItems []LineItem    `gorm:"serializer:json" json:"lineItems"`
	DueDate   *time.Time    `json:"dueDate,omitempty"`
	// DocumentURL points at the uploaded PDF, if any.
	DocumentURL string `json:"documentUrl,omitempty"`
}

type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unitAmount"`
}

// Total sums the line items.
func Total(items []LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.Quantity * li.UnitAmount
	}
	return total
}

// Validate recomputes the amount and checks the invoice before a write
func (inv *Invoice) Validate() error {
	if inv.CoachID == "" || inv.ClientID == "" {
		return fmt.Errorf("coachId and clientId are required")
	}
	if inv.CoachID == inv.ClientID {
		return fmt.Errorf("coach and client must be different users")
	}
	for i, li := range inv.LineItems {
		if li.Description == "" {
			return fmt.Errorf("line item %d: description is required", i)
		}
		if li.Quantity <= 0 || li.UnitAmount < 0 {
			return fmt.Errorf("line item %d: quantity must be positive and unit amount non-negative", i)
		}
	}
	inv.Amount = Total(inv.LineItems)
	switch inv.Status {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceVoid:
	default:
		return fmt.Errorf("invalid invoice status %q", inv.Status)
	}
	return nil
}

/** -------------------- DTOs -------------------- */
type CreateInvoiceRequest struct {
	ClientID  string     `json:"clientId" binding:"required"`
	Currency  string     `json:"currency" binding:"omitempty,len=3"`
	LineItems []LineItem `json:"lineItems" binding:"required,min=1"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}

type UpdateInvoiceRequest struct {
	Status    *InvoiceStatus `json:"status,omitempty"`
	LineItems []LineItem     `json:"lineItems,omitempty"`
	DueDate   *time.Time     `json:"dueDate,omitempty"`
}

// Apply copies the set fields onto inv.
func (r *UpdateInvoiceRequest) Apply(inv *Invoice) {
	if r.Status != nil {
		inv.Status = *r.Status
	}
	if r.LineItems != nil {
		inv.LineItems = r.LineItems
	}
	if r.DueDate != nil {
		inv.DueDate = r.DueDate
	}
}
