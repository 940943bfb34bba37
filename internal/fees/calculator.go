// Package fees turns a service selection into a priced line item.
package fees

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bookflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrUnknownService is returned when a selection references a service that
// is not in the catalog.
var ErrUnknownService = errors.New("unknown service")

// unitPlaces bounds the per-unit base before adjustments are applied.
const unitPlaces = 6

var hundred = decimal.NewFromInt(100)

// Selection is one requested service as submitted by the client.
type Selection struct {
	ServiceID     int64           `json:"service_id"`
	UnitCount     decimal.Decimal `json:"unit_count"`
	AdjustmentIDs []string        `json:"adjustment_ids,omitempty"`
	TeamID        int64           `json:"team_id"`
	Files         []string        `json:"files,omitempty"`
}

// Quote is the priced result for a selection.
type Quote struct {
	Fee             string
	DisplayName     string
	AdjustmentLabel string
	UnitLabel       string
}

type Calculator struct {
	services map[int64]models.ServiceDefinition
	logger   *zerolog.Logger
}

func NewCalculator(services []models.ServiceDefinition, logger *zerolog.Logger) *Calculator {
	m := make(map[int64]models.ServiceDefinition, len(services))
	for _, s := range services {
		m[s.ID] = s
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Calculator{services: m, logger: logger}
}

// Service looks up a catalog entry.
func (c *Calculator) Service(id int64) (models.ServiceDefinition, bool) {
	s, ok := c.services[id]
	return s, ok
}

// Quote prices a selection. Unknown adjustment references and options
// without a label are logged and skipped.
func (c *Calculator) Quote(sel Selection) (Quote, error) {
	svc, ok := c.services[sel.ServiceID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %d", ErrUnknownService, sel.ServiceID)
	}

	fee := BaseFee(svc, sel.UnitCount)

	options := c.resolveAdjustments(svc, sel.AdjustmentIDs)
	fee, labels := ApplyAdjustments(fee, options)

	display := svc.Name
	if len(labels) > 0 {
		display = svc.Name + " - " + strings.Join(labels, " - ")
	}

	return Quote{
		Fee:             FormatMoney(fee),
		DisplayName:     display,
		AdjustmentLabel: strings.Join(labels, ", "),
		UnitLabel:       unitLabel(svc, sel.UnitCount),
	}, nil
}

// LineItem prices the selection and derives the team fee from the given
// percentage.
func (c *Calculator) LineItem(sel Selection, teamPercentage decimal.Decimal) (models.LineItem, error) {
	q, err := c.Quote(sel)
	if err != nil {
		return models.LineItem{}, err
	}
	clientFee := decimal.RequireFromString(q.Fee)

	return models.LineItem{
		ServiceID:       sel.ServiceID,
		ServiceName:     q.DisplayName,
		AdjustmentLabel: q.AdjustmentLabel,
		UnitLabel:       q.UnitLabel,
		TeamID:          sel.TeamID,
		ClientFee:       q.Fee,
		TeamFee:         FormatMoney(TeamFee(clientFee, teamPercentage)),
		Files:           sel.Files,
	}, nil
}

func (c *Calculator) resolveAdjustments(svc models.ServiceDefinition, ids []string) []models.AdjustmentOption {
	byID := make(map[string]models.AdjustmentOption, len(svc.Adjustments))
	for _, a := range svc.Adjustments {
		byID[a.ID] = a
	}

	out := make([]models.AdjustmentOption, 0, len(ids))
	for _, id := range ids {
		opt, ok := byID[id]
		if !ok {
			c.logger.Warn().Int64("service_id", svc.ID).Str("adjustment_id", id).Msg("unknown adjustment reference skipped")
			continue
		}
		out = append(out, opt)
	}
	return out
}

// BaseFee is the flat rate, or rate × units rounded to six places.
func BaseFee(svc models.ServiceDefinition, units decimal.Decimal) decimal.Decimal {
	if !svc.IsPerUnit() {
		return svc.RateValue
	}
	return svc.RateValue.Mul(units).Round(unitPlaces)
}

// ApplyAdjustments applies multipliers first, then surcharges, then
// discounts, and returns the labels in application order. Options without a
// label or with an unknown operator are skipped. The fee never drops below
// zero.
func ApplyAdjustments(fee decimal.Decimal, options []models.AdjustmentOption) (decimal.Decimal, []string) {
	valid := make([]models.AdjustmentOption, 0, len(options))
	for _, o := range options {
		if strings.TrimSpace(o.Label) == "" || operatorRank(o.Operator) < 0 {
			continue
		}
		valid = append(valid, o)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return operatorRank(valid[i].Operator) < operatorRank(valid[j].Operator)
	})

	labels := make([]string, 0, len(valid))
	for _, o := range valid {
		switch o.Operator {
		case models.OpMultiply:
			fee = fee.Mul(o.Magnitude)
		case models.OpAdd:
			fee = fee.Add(o.Magnitude)
		case models.OpSubtract:
			fee = fee.Sub(o.Magnitude)
		}
		labels = append(labels, o.Label)
	}

	if fee.IsNegative() {
		fee = decimal.Zero
	}
	return fee, labels
}

func operatorRank(op string) int {
	switch op {
	case models.OpMultiply:
		return 0
	case models.OpAdd:
		return 1
	case models.OpSubtract:
		return 2
	default:
		return -1
	}
}

// TeamFee is clientFee × percentage / 100, rounded to cents.
func TeamFee(clientFee, percentage decimal.Decimal) decimal.Decimal {
	return clientFee.Mul(percentage).Div(hundred).Round(models.MoneyPlaces)
}

// Percent returns amount × percentage / 100, rounded to cents.
func Percent(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(models.MoneyPlaces)
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(models.MoneyPlaces)
}

func unitLabel(svc models.ServiceDefinition, units decimal.Decimal) string {
	if !svc.IsPerUnit() {
		return ""
	}
	unit := svc.UnitName()
	if !units.Equal(decimal.NewFromInt(1)) {
		unit += "s"
	}
	return units.String() + " " + unit
}
