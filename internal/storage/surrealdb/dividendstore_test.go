package surrealdb

import (
	"context"
	"strings"
	"testing"

	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

func divFixture(exDate string, amount float64) *models.Dividend {
	return &models.Dividend{
		ExDividendDate: exDate,
		PayDate:        exDate,
		Amount:         amount,
		Currency:       models.DefaultCurrency,
		Frequency:      models.DefaultFrequency,
		DividendType:   models.DefaultDividendType,
		DataSource:     models.DataSourcePolygon,
	}
}

func TestDividendStore_UpsertBatchAndList(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	result, err := store.UpsertBatch(ctx, "aapl", []*models.Dividend{
		divFixture("2025-02-10", 0.24),
		divFixture("2025-05-12", 0.25),
	})
	if err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", result.Inserted)
	}
	if result.Errors != 0 {
		t.Errorf("expected 0 errors, got %d", result.Errors)
	}

	dividends, err := store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{})
	if err != nil {
		t.Fatalf("ListByTicker failed: %v", err)
	}
	if len(dividends) != 2 {
		t.Fatalf("expected 2 dividends, got %d", len(dividends))
	}
	// Newest ex-date first
	if dividends[0].ExDividendDate != "2025-05-12" {
		t.Errorf("expected newest first, got %s", dividends[0].ExDividendDate)
	}
	if dividends[0].Ticker != "AAPL" {
		t.Errorf("expected ticker stamped AAPL, got %s", dividends[0].Ticker)
	}
	if dividends[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestDividendStore_UpsertBatch_NaturalKeyIdempotent(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	if _, err := store.UpsertBatch(ctx, "AAPL", []*models.Dividend{divFixture("2025-02-10", 0.24)}); err != nil {
		t.Fatalf("first UpsertBatch failed: %v", err)
	}

	// Same ex-date again with a corrected amount lands on the same row
	if _, err := store.UpsertBatch(ctx, "AAPL", []*models.Dividend{divFixture("2025-02-10", 0.26)}); err != nil {
		t.Fatalf("second UpsertBatch failed: %v", err)
	}

	count, err := store.CountByTicker(ctx, "AAPL")
	if err != nil {
		t.Fatalf("CountByTicker failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after re-ingest, got %d", count)
	}

	dividends, _ := store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{})
	if len(dividends) != 1 {
		t.Fatalf("expected 1 dividend, got %d", len(dividends))
	}
	if dividends[0].Amount != 0.26 {
		t.Errorf("expected updated amount 0.26, got %f", dividends[0].Amount)
	}
}

func TestDividendStore_UpsertBatch_CollectsValidationErrors(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	result, err := store.UpsertBatch(ctx, "AAPL", []*models.Dividend{
		divFixture("", 0.24),           // missing ex-date
		divFixture("2025-02-10", 0),    // non-positive amount
		divFixture("2025-05-12", 0.25), // valid
	})
	if err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	if result.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", result.Inserted)
	}
	if result.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", result.Errors)
	}
	if len(result.ErrorMessages) != 2 {
		t.Fatalf("expected 2 error messages, got %d", len(result.ErrorMessages))
	}
	if !strings.Contains(result.ErrorMessages[0], "missing ex_dividend_date") {
		t.Errorf("unexpected first message: %s", result.ErrorMessages[0])
	}
	if !strings.Contains(result.ErrorMessages[1], "non-positive amount") {
		t.Errorf("unexpected second message: %s", result.ErrorMessages[1])
	}

	count, _ := store.CountByTicker(ctx, "AAPL")
	if count != 1 {
		t.Errorf("expected only the valid row stored, got %d", count)
	}
}

func TestDividendStore_ListByTicker_DateFilter(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	store.UpsertBatch(ctx, "AAPL", []*models.Dividend{
		divFixture("2024-11-08", 0.24),
		divFixture("2025-02-10", 0.24),
		divFixture("2025-05-12", 0.25),
	})

	dividends, err := store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{
		StartDate: "2025-01-01",
		EndDate:   "2025-03-31",
	})
	if err != nil {
		t.Fatalf("ListByTicker failed: %v", err)
	}
	if len(dividends) != 1 {
		t.Fatalf("expected 1 dividend in window, got %d", len(dividends))
	}
	if dividends[0].ExDividendDate != "2025-02-10" {
		t.Errorf("expected 2025-02-10, got %s", dividends[0].ExDividendDate)
	}

	// Bounds are inclusive
	dividends, err = store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{
		StartDate: "2025-02-10",
		EndDate:   "2025-05-12",
	})
	if err != nil {
		t.Fatalf("ListByTicker failed: %v", err)
	}
	if len(dividends) != 2 {
		t.Errorf("expected inclusive bounds to match 2 dividends, got %d", len(dividends))
	}
}

func TestDividendStore_ListByTicker_Pagination(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	store.UpsertBatch(ctx, "AAPL", []*models.Dividend{
		divFixture("2024-11-08", 0.24),
		divFixture("2025-02-10", 0.24),
		divFixture("2025-05-12", 0.25),
	})

	page, err := store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListByTicker failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 dividends, got %d", len(page))
	}

	rest, err := store.ListByTicker(ctx, "AAPL", interfaces.DividendFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListByTicker with offset failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 dividend on second page, got %d", len(rest))
	}
	if rest[0].ExDividendDate != "2024-11-08" {
		t.Errorf("expected oldest on last page, got %s", rest[0].ExDividendDate)
	}
}

func TestDividendStore_ListAll(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	store.UpsertBatch(ctx, "AAPL", []*models.Dividend{divFixture("2025-02-10", 0.24)})
	store.UpsertBatch(ctx, "MSFT", []*models.Dividend{divFixture("2025-02-19", 0.75)})

	dividends, err := store.ListAll(ctx, interfaces.DividendFilter{})
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(dividends) != 2 {
		t.Fatalf("expected 2 dividends across tickers, got %d", len(dividends))
	}

	filtered, err := store.ListAll(ctx, interfaces.DividendFilter{StartDate: "2025-02-15"})
	if err != nil {
		t.Fatalf("ListAll with filter failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Ticker != "MSFT" {
		t.Errorf("expected only MSFT after 2025-02-15, got %d rows", len(filtered))
	}
}

func TestDividendStore_ListForTickers(t *testing.T) {
	db := testDB(t)
	store := NewDividendStore(db, testLogger())
	ctx := context.Background()

	store.UpsertBatch(ctx, "AAPL", []*models.Dividend{divFixture("2025-02-10", 0.24)})
	store.UpsertBatch(ctx, "MSFT", []*models.Dividend{divFixture("2025-02-19", 0.75)})
	store.UpsertBatch(ctx, "GOOG", []*models.Dividend{divFixture("2025-03-10", 0.20)})

	dividends, err := store.ListForTickers(ctx, []string{"aapl", "msft"}, interfaces.DividendFilter{})
	if err != nil {
		t.Fatalf("ListForTickers failed: %v", err)
	}
	if len(dividends) != 2 {
		t.Fatalf("expected 2 dividends for subset, got %d", len(dividends))
	}
	for _, d := range dividends {
		if d.Ticker == "GOOG" {
			t.Error("GOOG should not appear in subset query")
		}
	}

	empty, err := store.ListForTickers(ctx, nil, interfaces.DividendFilter{})
	if err != nil {
		t.Fatalf("ListForTickers with no symbols failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result for no symbols, got %d", len(empty))
	}
}
