package models

import (
	"time"

	"github.com/google/uuid"
)

// Donation status values. The _upi variants belong to the UPI intent
// side-channel which is confirmed by polling instead of a callback.
const (
	StatusPending      = "pending"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusRefunded     = "refunded"
	StatusPendingUPI   = "pending_upi"
	StatusCompletedUPI = "completed_upi"
	StatusFailedUPI    = "failed_upi"
)

// Donation channels.
const (
	ChannelGateway = "gateway"
	ChannelUPI     = "upi"
)

// DonationRecord is the ledger entity for a single donation. PaymentID
// is the merchant-assigned txnid and the idempotency key for the whole
// payment flow; it is assigned once at creation and never reused.
type DonationRecord struct {
	BaseModel
	PaymentID        string     `gorm:"column:payment_id;uniqueIndex" json:"payment_id"`
	Amount           int64      `json:"amount"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	Message          string     `json:"message"`
	PANCard          string     `gorm:"column:pan_card" json:"pan_card"`
	CategoryID       *uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	EventID          *uuid.UUID `gorm:"type:uuid;index" json:"event_id"`
	UserID           *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Channel          string     `json:"channel"`
	Status           string     `gorm:"index" json:"status"`
	InvoiceNumber    string     `gorm:"column:invoice_number;index" json:"invoice_number"`
	ReceiptSent      bool       `json:"receipt_sent"`
	NotificationSent bool       `json:"notification_sent"`
	GatewayResponse  []byte     `gorm:"type:jsonb" json:"gateway_response"`
}

// IsTerminal reports whether the record has reached a final state. No
// transition out of a terminal state is permitted by reconciliation.
func (d *DonationRecord) IsTerminal() bool {
	switch d.Status {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusCompletedUPI, StatusFailedUPI:
		return true
	}
	return false
}

// IsCompleted reports whether the donation reached a completed state on
// either channel.
func (d *DonationRecord) IsCompleted() bool {
	return d.Status == StatusCompleted || d.Status == StatusCompletedUPI
}

// DonationCategory is a standing donation purpose (seva) donors can
// pick, e.g. temple maintenance or annadaan.
type DonationCategory struct {
	BaseModel
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

// Event is a time-bound occasion donations can be tied to.
type Event struct {
	BaseModel
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
}
