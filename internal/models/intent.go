package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingIntent is one checkout attempt.
type BookingIntent struct {
	ID             int64               `json:"id"`
	Status         string              `json:"status"`
	ClientID       string              `json:"client_id"`
	ClientEmail    string              `json:"client_email"`
	ProjectID      *int64              `json:"project_id,omitempty"`
	AffiliateID    *int64              `json:"affiliate_id,omitempty"`
	SalesRepID     *int64              `json:"sales_rep_id,omitempty"`
	LineItems      []LineItem          `json:"line_items"`
	TotalFee       decimal.Decimal     `json:"total_fee"`
	NetFee         decimal.NullDecimal `json:"net_fee"`
	PreviouslyPaid bool                `json:"previously_paid"`
	TermsVersion   string              `json:"terms_version,omitempty"`
	TermsDocRef    string              `json:"terms_doc_ref,omitempty"`
	CheckoutLink   string              `json:"checkout_link,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// IsGuest reports whether the intent was submitted without an account.
func (i *BookingIntent) IsGuest() bool {
	return i.ClientID == GuestClient
}

// CurrentNetFee returns the running balance, falling back to the total fee
// when no commission has been paid out yet.
func (i *BookingIntent) CurrentNetFee() decimal.Decimal {
	if i.NetFee.Valid {
		return i.NetFee.Decimal
	}
	return i.TotalFee
}

// LineItem is one purchased service entry. Fees are kept as fixed two-place
// strings; TeamFee is always derived from ClientFee.
type LineItem struct {
	ServiceID       int64    `json:"service_id"`
	ServiceName     string   `json:"service_name"`
	AdjustmentLabel string   `json:"adjustment_label,omitempty"`
	UnitLabel       string   `json:"unit_label,omitempty"`
	TeamID          int64    `json:"team_id"`
	ClientFee       string   `json:"client_fee"`
	TeamFee         string   `json:"team_fee"`
	Files           []string `json:"files,omitempty"`
}

// ClientFeeDecimal parses ClientFee, treating malformed values as zero.
func (l LineItem) ClientFeeDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(l.ClientFee)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// TeamFeeDecimal parses TeamFee, treating malformed values as zero.
func (l LineItem) TeamFeeDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(l.TeamFee)
	if err != nil {
		return decimal.Zero
	}
	return d
}
