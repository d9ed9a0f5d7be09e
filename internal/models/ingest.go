package models

// UpdateTickersRequest is the update-tickers request body.
// RequestID is set by the handler when it answers before processing
// starts, so the accepted response and the eventual run correlate.
type UpdateTickersRequest struct {
	Tickers   []string `json:"tickers"`
	Priority  int      `json:"priority,omitempty"`
	Force     bool     `json:"force,omitempty"`
	RequestID string   `json:"-"`
}

// FastQueueStatus reports how the fast lane handled its share of an
// ingest request. Fallback names the path used when dispatch failed.
type FastQueueStatus struct {
	Dispatched bool   `json:"dispatched"`
	Count      int    `json:"count"`
	Fallback   string `json:"fallback,omitempty"`
}

// IngestResult summarizes one update-tickers run.
type IngestResult struct {
	RequestID     string           `json:"request_id"`
	Routes        []RouteDecision  `json:"routes"`
	NewCount      int              `json:"new_count"`
	ExistingCount int              `json:"existing_count"`
	Job           *Job             `json:"job,omitempty"`
	FastQueue     *FastQueueStatus `json:"fast_queue,omitempty"`
}
