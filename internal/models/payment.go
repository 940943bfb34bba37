package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a commission payout owed to a team member, affiliate or
// salesperson. BookedServiceID is zero for affiliate and sales payments.
type Payment struct {
	ID              int64           `json:"id"`
	Type            string          `json:"type"`
	PayeeID         int64           `json:"payee_id"`
	BookedServiceID int64           `json:"booked_service_id,omitempty"`
	IntentID        int64           `json:"intent_id"`
	ClientID        string          `json:"client_id"`
	ProjectID       int64           `json:"project_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	Memo            string          `json:"memo"`
	PaidDate        *time.Time      `json:"paid_date,omitempty"`
	EligibleAt      *time.Time      `json:"eligible_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BookingPayment is a client-facing charge obligation (deposit or final).
type BookingPayment struct {
	ID             int64           `json:"id"`
	IntentID       int64           `json:"intent_id"`
	ClientID       string          `json:"client_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	ReceiptRef     string          `json:"receipt_ref,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Due            bool            `json:"due"`
	DueAt          *time.Time      `json:"due_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transaction is the processor's view of a charge.
type Transaction struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	AmountReceived decimal.Decimal   `json:"amount_received"`
	PaymentMethod  string            `json:"payment_method"`
	ReceiptURL     string            `json:"receipt_url"`
	Metadata       map[string]string `json:"metadata"`
}

// TransactionSucceeded is the processor status for a settled charge.
const TransactionSucceeded = "succeeded"
