package dividend

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

func TestTransformRecord_SymbolResolution(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		record   models.PolygonDividend
		want     string
		wantErr  bool
	}{
		{"record_ticker_wins", "IGNORED", models.PolygonDividend{Ticker: "aapl", ExDividendDate: "2026-01-01", CashAmount: 1}, "AAPL", false},
		{"fallback_fills_gap", "msft", models.PolygonDividend{ExDividendDate: "2026-01-01", CashAmount: 1}, "MSFT", false},
		{"both_empty_rejected", "", models.PolygonDividend{ExDividendDate: "2026-01-01", CashAmount: 1}, "", true},
		{"dotted_class_share", "", models.PolygonDividend{Ticker: "BRK.B", ExDividendDate: "2026-01-01", CashAmount: 1}, "BRK.B", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := transformRecord(tt.fallback, tt.record)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("transformRecord failed: %v", err)
			}
			if d.Ticker != tt.want {
				t.Errorf("ticker = %q, want %q", d.Ticker, tt.want)
			}
		})
	}
}

func TestTransformRecord_KeepsUpstreamValues(t *testing.T) {
	d, err := transformRecord("", models.PolygonDividend{
		ID:              "ev9",
		Ticker:          "BHP",
		DeclarationDate: "2026-02-01",
		RecordDate:      "2026-03-05",
		ExDividendDate:  "2026-03-04",
		PayDate:         "2026-03-28",
		CashAmount:      1.48,
		Currency:        "aud",
		Frequency:       2,
		DividendType:    "SC",
	})
	if err != nil {
		t.Fatalf("transformRecord failed: %v", err)
	}

	if d.Currency != "AUD" {
		t.Errorf("currency = %q, want AUD (upstream value uppercased, not defaulted)", d.Currency)
	}
	if d.Frequency != 2 {
		t.Errorf("frequency = %d, want 2", d.Frequency)
	}
	if d.DividendType != "SC" {
		t.Errorf("type = %q, want SC", d.DividendType)
	}
	if d.DeclarationDate != "2026-02-01" || d.RecordDate != "2026-03-05" || d.PayDate != "2026-03-28" {
		t.Errorf("date fields not carried: %+v", d)
	}
}

func TestRenderChart_ProducesPNG(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	svc, deps := newTestService(now)

	// Store order: newest first
	deps.storage.dividends.listRows = []*models.Dividend{
		{Ticker: "AAPL", ExDividendDate: "2026-05-12", Amount: 0.26},
		{Ticker: "AAPL", ExDividendDate: "2026-02-10", Amount: 0.25},
		{Ticker: "AAPL", ExDividendDate: "2025-11-08", Amount: 0.25},
	}

	png, err := svc.RenderChart(context.Background(), "aapl", 5)
	if err != nil {
		t.Fatalf("RenderChart failed: %v", err)
	}

	if len(png) < 8 {
		t.Fatalf("suspiciously small output: %d bytes", len(png))
	}
	sig := []byte{0x89, 'P', 'N', 'G'}
	for i, b := range sig {
		if png[i] != b {
			t.Fatalf("output is not a PNG, header = % x", png[:8])
		}
	}
}

func TestRenderChart_TooFewPoints(t *testing.T) {
	svc, deps := newTestService(time.Now())
	deps.storage.dividends.listRows = []*models.Dividend{
		{Ticker: "AAPL", ExDividendDate: "2026-02-10", Amount: 0.25},
	}

	if _, err := svc.RenderChart(context.Background(), "AAPL", 5); err == nil {
		t.Fatal("expected error with a single data point")
	}
}
