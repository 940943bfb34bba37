// Package export renders payout reports as Excel workbooks.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"bookflow/internal/models"
)

const (
	payoutsSheet = "Payouts"
	totalsSheet  = "Totals"
	dateLayout   = "2006-01-02"
)

// PaymentLister is the read side the exporter needs.
type PaymentLister interface {
	GetPaymentsByStatus(ctx context.Context, status string) ([]*models.Payment, error)
}

type PayoutExporter struct {
	payments PaymentLister
	names    map[int64]string
	dir      string
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewPayoutExporter(payments PaymentLister, team []models.TeamMember, dir string, logger *zerolog.Logger) *PayoutExporter {
	names := make(map[int64]string, len(team))
	for _, m := range team {
		names[m.ID] = m.Name
	}
	return &PayoutExporter{payments: payments, names: names, dir: dir, logger: logger, now: time.Now}
}

// Write renders every payment with the given status into w.
func (e *PayoutExporter) Write(ctx context.Context, status string, w io.Writer) error {
	f, err := e.build(ctx, status)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the report into the export directory and returns its path.
func (e *PayoutExporter) Save(ctx context.Context, status string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx, status)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("payouts_%s_%s.xlsx", status, e.now().Format(dateLayout))
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", path).Str("status", status).Msg("Payout export created")
	return path, nil
}

func (e *PayoutExporter) build(ctx context.Context, status string) (*excelize.File, error) {
	payments, err := e.payments.GetPaymentsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("error getting payments: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(payoutsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	headers := []interface{}{"Payment", "Type", "Payee", "Payee name", "Booking", "Booked service", "Amount", "Status", "Eligible at", "Paid", "Memo"}
	_ = f.SetSheetRow(payoutsSheet, "A1", &headers)
	_ = f.SetCellStyle(payoutsSheet, "A1", "K1", headerStyle)

	totals := make(map[int64]decimal.Decimal)
	for i, p := range payments {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		amount, _ := p.Amount.Round(models.MoneyPlaces).Float64()
		row := []interface{}{
			p.ID, p.Type, p.PayeeID, e.names[p.PayeeID], p.IntentID, optionalID(p.BookedServiceID),
			amount, p.Status, formatDate(p.EligibleAt), formatDate(p.PaidDate), p.Memo,
		}
		_ = f.SetSheetRow(payoutsSheet, cell, &row)
		totals[p.PayeeID] = totals[p.PayeeID].Add(p.Amount)
	}
	_ = f.SetColWidth(payoutsSheet, "A", "J", 16)
	_ = f.SetColWidth(payoutsSheet, "K", "K", 50)

	if _, err := f.NewSheet(totalsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	totalHeaders := []interface{}{"Payee", "Payee name", "Total"}
	_ = f.SetSheetRow(totalsSheet, "A1", &totalHeaders)
	_ = f.SetCellStyle(totalsSheet, "A1", "C1", headerStyle)

	payees := make([]int64, 0, len(totals))
	for id := range totals {
		payees = append(payees, id)
	}
	sort.Slice(payees, func(i, j int) bool { return payees[i] < payees[j] })
	for i, id := range payees {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		total, _ := totals[id].Round(models.MoneyPlaces).Float64()
		row := []interface{}{id, e.names[id], total}
		_ = f.SetSheetRow(totalsSheet, cell, &row)
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func optionalID(id int64) interface{} {
	if id == 0 {
		return ""
	}
	return id
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}
