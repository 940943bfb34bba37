package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ServiceDefinition is a bookable service from the catalog.
type ServiceDefinition struct {
	ID          int64              `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	RateType    string             `yaml:"rate_type" json:"rate_type"`
	RateValue   decimal.Decimal    `yaml:"rate_value" json:"rate_value"`
	BriefType   string             `yaml:"brief_type" json:"brief_type,omitempty"`
	Adjustments []AdjustmentOption `yaml:"adjustments" json:"adjustments,omitempty"`
}

// IsPerUnit reports whether the rate is multiplied by a unit count.
func (d ServiceDefinition) IsPerUnit() bool {
	return strings.HasPrefix(d.RateType, RatePerUnitPfx)
}

// UnitName returns "word" for rate type "per-word".
func (d ServiceDefinition) UnitName() string {
	return strings.TrimPrefix(d.RateType, RatePerUnitPfx)
}

// Adjustment operators.
const (
	OpMultiply = "*"
	OpAdd      = "+"
	OpSubtract = "-"
)

// AdjustmentOption modifies a service fee.
type AdjustmentOption struct {
	ID        string          `yaml:"id" json:"id"`
	Operator  string          `yaml:"operator" json:"operator"`
	Magnitude decimal.Decimal `yaml:"magnitude" json:"magnitude"`
	Label     string          `yaml:"label" json:"label"`
}

// TeamMember is a payee with an optional commission override.
type TeamMember struct {
	ID         int64           `yaml:"id" json:"id"`
	Name       string          `yaml:"name" json:"name"`
	Percentage decimal.Decimal `yaml:"percentage" json:"percentage"`
}
