package fees

import (
	"testing"

	"bookflow/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() []models.ServiceDefinition {
	return []models.ServiceDefinition{
		{ID: 1, Name: "Audit", RateType: models.RateFlat, RateValue: d("100.00")},
		{
			ID: 2, Name: "Blog Post", RateType: "per-word", RateValue: d("0.10"),
			Adjustments: []models.AdjustmentOption{
				{ID: "extra", Operator: models.OpAdd, Magnitude: d("20"), Label: "Extra Revisions"},
				{ID: "rush", Operator: models.OpMultiply, Magnitude: d("1.5"), Label: "Rush"},
				{ID: "promo", Operator: models.OpSubtract, Magnitude: d("500"), Label: "Promo"},
				{ID: "nolabel", Operator: models.OpAdd, Magnitude: d("999")},
			},
		},
	}
}

func TestQuoteFlatNoAdjustments(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	q, err := c.Quote(Selection{ServiceID: 1})
	require.NoError(t, err)
	assert.Equal(t, "100.00", q.Fee)
	assert.Equal(t, "Audit", q.DisplayName)
	assert.Empty(t, q.UnitLabel)
}

func TestQuotePerUnitWithAdjustments(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	// additive option listed first still applies after the multiplier
	q, err := c.Quote(Selection{ServiceID: 2, UnitCount: d("1000"), AdjustmentIDs: []string{"extra", "rush"}})
	require.NoError(t, err)
	assert.Equal(t, "170.00", q.Fee)
	assert.Equal(t, "Blog Post - Rush - Extra Revisions", q.DisplayName)
	assert.Equal(t, "Rush, Extra Revisions", q.AdjustmentLabel)
	assert.Equal(t, "1000 words", q.UnitLabel)
}

func TestQuoteSkipsInvalidAdjustments(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	q, err := c.Quote(Selection{ServiceID: 2, UnitCount: d("1000"), AdjustmentIDs: []string{"missing", "nolabel"}})
	require.NoError(t, err)
	assert.Equal(t, "100.00", q.Fee)
	assert.Equal(t, "Blog Post", q.DisplayName)
}

func TestQuoteNeverNegative(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	q, err := c.Quote(Selection{ServiceID: 2, UnitCount: d("10"), AdjustmentIDs: []string{"promo"}})
	require.NoError(t, err)
	assert.Equal(t, "0.00", q.Fee)
	assert.Equal(t, "10 words", q.UnitLabel)
}

func TestQuoteUnknownService(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	_, err := c.Quote(Selection{ServiceID: 42})
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestBaseFeeRoundsPerUnit(t *testing.T) {
	svc := models.ServiceDefinition{RateType: "per-minute", RateValue: d("0.3333333333")}
	assert.Equal(t, "1.0000000", BaseFee(svc, d("3")).StringFixed(7))
	assert.True(t, BaseFee(svc, d("3")).Equal(d("1")))
}

func TestLineItemDerivesTeamFee(t *testing.T) {
	c := NewCalculator(testCatalog(), nil)

	item, err := c.LineItem(Selection{ServiceID: 1, TeamID: 9, Files: []string{"f1"}}, d("55"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", item.ClientFee)
	assert.Equal(t, "55.00", item.TeamFee)
	assert.Equal(t, int64(9), item.TeamID)
	assert.Equal(t, []string{"f1"}, item.Files)
}

func TestApplyAdjustmentsOrder(t *testing.T) {
	opts := []models.AdjustmentOption{
		{Operator: models.OpSubtract, Magnitude: d("10"), Label: "Discount"},
		{Operator: models.OpAdd, Magnitude: d("5"), Label: "Surcharge"},
		{Operator: models.OpMultiply, Magnitude: d("2"), Label: "Double"},
		{Operator: "/", Magnitude: d("2"), Label: "Bogus"},
	}

	fee, labels := ApplyAdjustments(d("50"), opts)
	assert.True(t, fee.Equal(d("95")), "got %s", fee)
	assert.Equal(t, []string{"Double", "Surcharge", "Discount"}, labels)
}
