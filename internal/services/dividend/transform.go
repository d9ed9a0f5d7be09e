package dividend

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/divvy/internal/models"
)

// transformRecords maps upstream records into storage rows, applying
// defaults and dropping records that fail validation. Rejections come
// back as messages so callers can report them without failing the batch.
func transformRecords(fallbackSymbol string, records []models.PolygonDividend) ([]*models.Dividend, []string) {
	out := make([]*models.Dividend, 0, len(records))
	var rejected []string

	for _, r := range records {
		d, err := transformRecord(fallbackSymbol, r)
		if err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		out = append(out, d)
	}

	return out, rejected
}

// transformRecord projects one upstream record. The bulk scan passes an
// empty fallback symbol and relies on the record's own ticker field.
func transformRecord(fallbackSymbol string, r models.PolygonDividend) (*models.Dividend, error) {
	symbol := strings.ToUpper(strings.TrimSpace(r.Ticker))
	if symbol == "" {
		symbol = strings.ToUpper(strings.TrimSpace(fallbackSymbol))
	}
	if symbol == "" {
		return nil, fmt.Errorf("record %s: missing ticker", r.ID)
	}

	exDate := strings.TrimSpace(r.ExDividendDate)
	if exDate == "" {
		return nil, fmt.Errorf("%s: missing ex_dividend_date", symbol)
	}

	if r.CashAmount <= 0 {
		return nil, fmt.Errorf("%s %s: non-positive amount %v", symbol, exDate, r.CashAmount)
	}

	d := &models.Dividend{
		Ticker:          symbol,
		DeclarationDate: strings.TrimSpace(r.DeclarationDate),
		RecordDate:      strings.TrimSpace(r.RecordDate),
		ExDividendDate:  exDate,
		PayDate:         strings.TrimSpace(r.PayDate),
		Amount:          r.CashAmount,
		Currency:        strings.ToUpper(strings.TrimSpace(r.Currency)),
		Frequency:       r.Frequency,
		DividendType:    strings.TrimSpace(r.DividendType),
		DataSource:      models.DataSourcePolygon,
		PolygonID:       r.ID,
	}

	if d.Currency == "" {
		d.Currency = models.DefaultCurrency
	}
	if d.Frequency <= 0 {
		d.Frequency = models.DefaultFrequency
	}
	if d.DividendType == "" {
		d.DividendType = models.DefaultDividendType
	}

	return d, nil
}
