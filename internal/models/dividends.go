package models

import "time"

// Ticker represents an equity symbol tracked for dividend history.
// The ticker table is the registry of every symbol the system has seen;
// any ingest request that touches a symbol upserts it here.
type Ticker struct {
	Symbol   string `json:"symbol"` // Uppercase, e.g. "AAPL" or "BRK.B"
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Active   bool   `json:"is_active"`
	Source   string `json:"source,omitempty"` // How it was added: "manual", "subscription", "sync"

	// UpdateFrequencyHours is the per-ticker freshness TTL. Zero means
	// the 24h default.
	UpdateFrequencyHours int `json:"update_frequency_hours"`

	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastDividendUpdate time.Time `json:"last_dividend_update"` // Advances only on successful fetches
}

// UpdateFrequency returns the per-ticker freshness TTL.
func (t *Ticker) UpdateFrequency() time.Duration {
	if t.UpdateFrequencyHours > 0 {
		return time.Duration(t.UpdateFrequencyHours) * time.Hour
	}
	return 24 * time.Hour
}

// Ticker source constants
const (
	TickerSourceManual       = "manual"
	TickerSourceSubscription = "subscription"
	TickerSourceSync         = "sync"
)

// Dividend represents one dividend event for a ticker.
// Date fields are ISO "YYYY-MM-DD" strings so lexical order matches
// chronological order and CSV export round-trips cleanly.
type Dividend struct {
	Ticker          string  `json:"ticker"`
	DeclarationDate string  `json:"declaration_date,omitempty"`
	RecordDate      string  `json:"record_date,omitempty"`
	ExDividendDate  string  `json:"ex_dividend_date"` // Required — part of the natural key
	PayDate         string  `json:"pay_date,omitempty"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Frequency       int     `json:"frequency"`
	DividendType    string  `json:"type"`
	DataSource      string  `json:"data_source"`
	PolygonID       string  `json:"polygon_id,omitempty"` // Upstream event id, unbounded text

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dividend field defaults applied when the upstream source omits them.
const (
	DefaultCurrency     = "USD"
	DefaultFrequency    = 4 // Quarterly
	DefaultDividendType = "Cash"
	DataSourcePolygon   = "polygon"
)

// UpsertResult reports the outcome of a bulk dividend upsert.
// Record-level validation failures are collected here, never raised.
type UpsertResult struct {
	Inserted      int      `json:"inserted"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// Routing lanes for ingest requests.
const (
	RouteFast = "fast"
	RouteBulk = "bulk"
)

// Routing reasons recorded with each lane decision.
const (
	RouteReasonNewTicker       = "new_ticker"
	RouteReasonRecentlyCreated = "recently_created"
	RouteReasonNoDividendData  = "no_dividend_data"
	RouteReasonRecentExisting  = "recent_existing"
	RouteReasonStaleExisting   = "stale_existing"
	RouteReasonErrorFallback   = "error_fallback"
)

// RouteDecision is the outcome of routing one ticker to an ingest lane.
type RouteDecision struct {
	Ticker string `json:"ticker"`
	Lane   string `json:"lane"`   // "fast" or "bulk"
	Reason string `json:"reason"` // One of the RouteReason constants
}

// Fetch kinds select the date window for an upstream dividend fetch.
const (
	FetchKindHistorical = "historical" // [today-2y, today+6m]
	FetchKindRecent     = "recent"     // [today-2d, today+3m]
)

// ProcessResult summarizes processing one ticker through the fetcher.
type ProcessResult struct {
	Ticker        string   `json:"ticker"`
	Skipped       bool     `json:"skipped"`
	SkipReason    string   `json:"skip_reason,omitempty"`
	Fetched       int      `json:"fetched"`
	Inserted      int      `json:"inserted"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// BulkFetchResult summarizes one whole-market recent scan.
type BulkFetchResult struct {
	Pages    int `json:"pages"`
	Fetched  int `json:"fetched"`
	Tickers  int `json:"tickers"`
	Inserted int `json:"inserted"`
	Errors   int `json:"errors"`
}
