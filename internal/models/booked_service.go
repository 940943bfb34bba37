package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookedService is the operational record of one purchased service.
type BookedService struct {
	ID                 int64           `json:"id"`
	IntentID           int64           `json:"intent_id"`
	LineIndex          int             `json:"line_index"`
	Status             string          `json:"status"`
	ServiceID          int64           `json:"service_id"`
	Name               string          `json:"name"`
	ClientID           string          `json:"client_id"`
	TeamID             int64           `json:"team_id"`
	ProjectID          int64           `json:"project_id"`
	ClientFee          decimal.Decimal `json:"client_fee"`
	TeamFee            decimal.Decimal `json:"team_fee"`
	Files              []string        `json:"files,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
}

// IsTerminal reports whether no further transitions are possible.
func (s *BookedService) IsTerminal() bool {
	return s.Status == ServiceComplete || s.Status == ServiceCanceled
}
