package models

import "time"

// External service identifiers for budget tracking
const (
	ServicePolygon = "polygon"
)

// RateBudget holds the persisted call counters for one upstream service.
// Counters reset when the clock crosses the corresponding truncation
// boundary, so a minute slot consumed at :59 is available again at :00.
type RateBudget struct {
	ServiceName  string    `json:"service_name"`
	MinuteCount  int       `json:"minute_count"`
	HourCount    int       `json:"hour_count"`
	DayCount     int       `json:"day_count"`
	ResetMinute  time.Time `json:"reset_minute"`
	ResetHour    time.Time `json:"reset_hour"`
	ResetDay     time.Time `json:"reset_day"`
	LastCallTime time.Time `json:"last_call_time"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Admission is the outcome of a budget reservation attempt. When Admitted
// is false, WaitMS is how long until the next slot opens.
type Admission struct {
	Admitted bool  `json:"admitted"`
	WaitMS   int64 `json:"wait_ms,omitempty"`
}

// CallLog is one append-only record of an outbound API call.
type CallLog struct {
	ID                 string                 `json:"id,omitempty"`
	ServiceName        string                 `json:"service_name"`
	Endpoint           string                 `json:"endpoint"`
	TickerSymbol       string                 `json:"ticker_symbol,omitempty"`
	ResponseStatus     int                    `json:"response_status"`
	ResponseTimeMS     int64                  `json:"response_time_ms"`
	RateLimitRemaining int                    `json:"rate_limit_remaining"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}
