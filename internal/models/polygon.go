package models

// PolygonDividend is one dividend record from the Polygon reference API.
// Dates are ISO YYYY-MM-DD strings; absent dates come back empty.
type PolygonDividend struct {
	ID              string  `json:"id"`
	Ticker          string  `json:"ticker"`
	DeclarationDate string  `json:"declaration_date"`
	RecordDate      string  `json:"record_date"`
	ExDividendDate  string  `json:"ex_dividend_date"`
	PayDate         string  `json:"pay_date"`
	CashAmount      float64 `json:"cash_amount"`
	Currency        string  `json:"currency"`
	Frequency       int     `json:"frequency"`
	DividendType    string  `json:"dividend_type"`
}

// PolygonDividendsResponse is one page of dividend records. NextURL is
// the cursor for the following page, empty on the last page.
type PolygonDividendsResponse struct {
	Results   []PolygonDividend `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	Count     int               `json:"count"`
	NextURL   string            `json:"next_url,omitempty"`
}

// FastQueueResult reports a fast-lane dispatch outcome.
type FastQueueResult struct {
	Dispatched bool   `json:"dispatched"`
	Count      int    `json:"count"`
	RequestID  string `json:"request_id,omitempty"`
	Message    string `json:"message,omitempty"`
}
