package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bobmcallan/divvy/internal/models"
)

// csvHeader is the per-ticker export column order. The cross-ticker
// variant prepends a Ticker column.
var csvHeader = []string{
	"Declaration Date", "Record Date", "Ex-Dividend Date", "Pay Date",
	"Amount", "Currency", "Frequency", "Type",
}

// writeDividendsCSV streams one ticker's rows as a CSV attachment.
func writeDividendsCSV(w http.ResponseWriter, ticker string, dividends []*models.Dividend) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ticker+"_dividends.csv"))

	cw := csv.NewWriter(w)
	cw.Write(csvHeader)
	for _, d := range dividends {
		cw.Write(dividendRow(d))
	}
	cw.Flush()
}

// writeAllDividendsCSV streams cross-ticker rows with a leading Ticker column.
func writeAllDividendsCSV(w http.ResponseWriter, filename string, dividends []*models.Dividend) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	cw.Write(append([]string{"Ticker"}, csvHeader...))
	for _, d := range dividends {
		cw.Write(append([]string{d.Ticker}, dividendRow(d)...))
	}
	cw.Flush()
}

// dividendRow renders one record; absent optional dates stay empty columns.
func dividendRow(d *models.Dividend) []string {
	return []string{
		d.DeclarationDate,
		d.RecordDate,
		d.ExDividendDate,
		d.PayDate,
		strconv.FormatFloat(d.Amount, 'f', -1, 64),
		d.Currency,
		strconv.Itoa(d.Frequency),
		d.DividendType,
	}
}
