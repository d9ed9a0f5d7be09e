package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/divvy/internal/app"
	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/services/subscription"
)

// --- storage mocks ---

type mockUserStore struct {
	users   map[string]*models.APIUser
	getErr  error
	touched []string
}

func newMockUserStore(users ...*models.APIUser) *mockUserStore {
	m := &mockUserStore{users: map[string]*models.APIUser{}}
	for _, u := range users {
		m.users[u.APIKey] = u
	}
	return m
}

func (m *mockUserStore) GetByKey(_ context.Context, apiKey string) (*models.APIUser, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[apiKey]
	if !ok {
		return nil, &models.StoreError{Kind: models.StoreNotFound, Op: "get", Table: "api_users"}
	}
	return u, nil
}

func (m *mockUserStore) Upsert(_ context.Context, user *models.APIUser) error {
	m.users[user.APIKey] = user
	return nil
}

func (m *mockUserStore) List(_ context.Context) ([]*models.APIUser, error) { return nil, nil }

func (m *mockUserStore) TouchLastUsed(_ context.Context, apiKey string, _ time.Time) error {
	m.touched = append(m.touched, apiKey)
	return nil
}

type mockDividendStore struct {
	rows    map[string][]*models.Dividend
	listErr error
}

func newMockDividendStore() *mockDividendStore {
	return &mockDividendStore{rows: map[string][]*models.Dividend{}}
}

func (m *mockDividendStore) UpsertBatch(_ context.Context, ticker string, divs []*models.Dividend) (*models.UpsertResult, error) {
	m.rows[ticker] = append(m.rows[ticker], divs...)
	return &models.UpsertResult{Inserted: len(divs)}, nil
}

func (m *mockDividendStore) ListByTicker(_ context.Context, ticker string, _ interfaces.DividendFilter) ([]*models.Dividend, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.rows[ticker], nil
}

func (m *mockDividendStore) ListAll(_ context.Context, _ interfaces.DividendFilter) ([]*models.Dividend, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var all []*models.Dividend
	for _, rows := range m.rows {
		all = append(all, rows...)
	}
	return all, nil
}

func (m *mockDividendStore) ListForTickers(_ context.Context, symbols []string, _ interfaces.DividendFilter) ([]*models.Dividend, error) {
	var out []*models.Dividend
	for _, sym := range symbols {
		out = append(out, m.rows[sym]...)
	}
	return out, nil
}

func (m *mockDividendStore) CountByTicker(_ context.Context, ticker string) (int, error) {
	return len(m.rows[ticker]), nil
}

type mockTickerStore struct {
	tickers map[string]*models.Ticker
}

func newMockTickerStore() *mockTickerStore {
	return &mockTickerStore{tickers: map[string]*models.Ticker{}}
}

func (m *mockTickerStore) Upsert(_ context.Context, symbol string) (*models.Ticker, error) {
	t, ok := m.tickers[symbol]
	if !ok {
		t = &models.Ticker{Symbol: symbol, Active: true, CreatedAt: time.Now()}
		m.tickers[symbol] = t
	}
	return t, nil
}

func (m *mockTickerStore) Get(_ context.Context, symbol string) (*models.Ticker, error) {
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, &models.StoreError{Kind: models.StoreNotFound, Op: "get", Table: "tickers"}
	}
	return t, nil
}

func (m *mockTickerStore) List(_ context.Context, _ bool) ([]*models.Ticker, error) { return nil, nil }

func (m *mockTickerStore) SetLastDividendUpdate(_ context.Context, symbol string, at time.Time) error {
	if t, ok := m.tickers[symbol]; ok {
		t.LastDividendUpdate = at
	}
	return nil
}

func (m *mockTickerStore) Count(_ context.Context) (int, error) { return len(m.tickers), nil }

type mockSubscriptionStore struct {
	activity []*models.SubscriptionActivity
}

func (m *mockSubscriptionStore) Get(_ context.Context, _, _ string) (*models.Subscription, error) {
	return nil, &models.StoreError{Kind: models.StoreNotFound, Op: "get", Table: "user_subscriptions"}
}
func (m *mockSubscriptionStore) Upsert(_ context.Context, _ *models.Subscription) error { return nil }
func (m *mockSubscriptionStore) Delete(_ context.Context, _, _ string) error            { return nil }
func (m *mockSubscriptionStore) ListByUser(_ context.Context, _ string) ([]*models.Subscription, error) {
	return nil, nil
}
func (m *mockSubscriptionStore) CountByUser(_ context.Context, _ string) (int, error) { return 0, nil }
func (m *mockSubscriptionStore) AppendActivity(_ context.Context, entry *models.SubscriptionActivity) error {
	m.activity = append(m.activity, entry)
	return nil
}
func (m *mockSubscriptionStore) ListActivity(_ context.Context, userID string, _ int) ([]*models.SubscriptionActivity, error) {
	var out []*models.SubscriptionActivity
	for _, e := range m.activity {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockStorage struct {
	users     *mockUserStore
	dividends *mockDividendStore
	tickers   *mockTickerStore
	subs      *mockSubscriptionStore
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		users:     newMockUserStore(),
		dividends: newMockDividendStore(),
		tickers:   newMockTickerStore(),
		subs:      &mockSubscriptionStore{},
	}
}

func (m *mockStorage) TickerStore() interfaces.TickerStore             { return m.tickers }
func (m *mockStorage) DividendStore() interfaces.DividendStore         { return m.dividends }
func (m *mockStorage) JobStore() interfaces.JobStore                   { return nil }
func (m *mockStorage) QueueStore() interfaces.QueueStore               { return nil }
func (m *mockStorage) BudgetStore() interfaces.BudgetStore             { return nil }
func (m *mockStorage) UserStore() interfaces.UserStore                 { return m.users }
func (m *mockStorage) SubscriptionStore() interfaces.SubscriptionStore { return m.subs }
func (m *mockStorage) Ping(_ context.Context) error                    { return nil }
func (m *mockStorage) Close() error                                    { return nil }

// --- service mocks ---

type mockJobManager struct {
	jobs      map[string]*models.Job
	remaining map[string]int
	ticks     int
	tickRes   *models.TickResult
	tickErr   error
}

func newMockJobManager() *mockJobManager {
	return &mockJobManager{jobs: map[string]*models.Job{}, remaining: map[string]int{}}
}

func (m *mockJobManager) SubmitJob(_ context.Context, jobType string, symbols []string, priority int, force bool, metadata map[string]interface{}) (*models.Job, error) {
	job := &models.Job{
		ID:            "job1",
		JobType:       jobType,
		Status:        models.JobStatusPending,
		TickerSymbols: symbols,
		Total:         len(symbols),
		Priority:      priority,
		Force:         force,
		Metadata:      metadata,
	}
	m.jobs[job.ID] = job
	m.remaining[job.ID] = len(symbols)
	return job, nil
}

func (m *mockJobManager) Cancel(_ context.Context, jobID string) error {
	job, ok := m.jobs[jobID]
	if !ok {
		return &models.StoreError{Kind: models.StoreNotFound, Op: "cancel", Table: "api_jobs"}
	}
	if job.Status != models.JobStatusPending {
		return &models.StoreError{Kind: models.StoreConflict, Op: "cancel", Table: "api_jobs"}
	}
	job.Status = models.JobStatusCancelled
	return nil
}

func (m *mockJobManager) Progress(_ context.Context, jobID string) (*models.JobProgress, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, &models.StoreError{Kind: models.StoreNotFound, Op: "get", Table: "api_jobs"}
	}
	return &models.JobProgress{Job: job, Remaining: m.remaining[jobID]}, nil
}

func (m *mockJobManager) List(_ context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	var out []*models.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *mockJobManager) Tick(_ context.Context) (*models.TickResult, error) {
	m.ticks++
	if m.tickErr != nil {
		return nil, m.tickErr
	}
	if m.tickRes != nil {
		return m.tickRes, nil
	}
	return &models.TickResult{}, nil
}

type mockIngest struct {
	requests []*models.UpdateTickersRequest
	result   *models.IngestResult
	err      error
	done     chan struct{} // closed signal for background runs
}

func (m *mockIngest) RouteTicker(_ context.Context, symbol string) models.RouteDecision {
	return models.RouteDecision{Ticker: symbol, Lane: models.RouteFast, Reason: models.RouteReasonNewTicker}
}

func (m *mockIngest) UpdateTickers(_ context.Context, req *models.UpdateTickersRequest) (*models.IngestResult, error) {
	m.requests = append(m.requests, req)
	if m.done != nil {
		defer close(m.done)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.IngestResult{RequestID: req.RequestID}, nil
}

type mockDividendService struct {
	process func(symbol string, force bool, kind string) (*models.ProcessResult, error)
	png     []byte
	pngErr  error
}

func (m *mockDividendService) FetchDividends(_ context.Context, _ string, _ string) ([]*models.Dividend, error) {
	return nil, nil
}

func (m *mockDividendService) FetchBulkRecent(_ context.Context, _, _ int) (*models.BulkFetchResult, error) {
	return &models.BulkFetchResult{}, nil
}

func (m *mockDividendService) ProcessTicker(_ context.Context, symbol string, force bool, kind string) (*models.ProcessResult, error) {
	if m.process != nil {
		return m.process(symbol, force, kind)
	}
	return &models.ProcessResult{Ticker: symbol}, nil
}

func (m *mockDividendService) RenderChart(_ context.Context, _ string, _ int) ([]byte, error) {
	if m.pngErr != nil {
		return nil, m.pngErr
	}
	return m.png, nil
}

type mockSubscriptionService struct {
	subs      map[string][]*models.Subscription
	subErr    error
	unsubErr  error
	dividends []*models.Dividend
}

func newMockSubscriptionService() *mockSubscriptionService {
	return &mockSubscriptionService{subs: map[string][]*models.Subscription{}}
}

func (m *mockSubscriptionService) List(_ context.Context, userID string) ([]*models.Subscription, error) {
	return m.subs[userID], nil
}

func (m *mockSubscriptionService) Subscribe(_ context.Context, user *models.APIUser, ticker string, priority int) (*models.Subscription, error) {
	if m.subErr != nil {
		return nil, m.subErr
	}
	sub := &models.Subscription{UserID: user.UserID, TickerSymbol: strings.ToUpper(ticker), Priority: priority}
	m.subs[user.UserID] = append(m.subs[user.UserID], sub)
	return sub, nil
}

func (m *mockSubscriptionService) Unsubscribe(_ context.Context, _ *models.APIUser, _ string) error {
	return m.unsubErr
}

func (m *mockSubscriptionService) BulkApply(_ context.Context, _ *models.APIUser, action string, tickers []string, _ int) ([]*models.BulkSubscriptionOutcome, error) {
	if action != "subscribe" && action != "unsubscribe" {
		return nil, subscription.ErrInvalidAction
	}
	var out []*models.BulkSubscriptionOutcome
	for _, t := range tickers {
		out = append(out, &models.BulkSubscriptionOutcome{Ticker: t, Status: action + "d"})
	}
	return out, nil
}

func (m *mockSubscriptionService) MyDividends(_ context.Context, _ string, _ interfaces.DividendFilter) ([]*models.Dividend, error) {
	return m.dividends, nil
}

// --- fixture ---

const testKey = "tk_test_key_123456"

// testFixture bundles a server over mock services with its backing mocks.
type testFixture struct {
	server   *Server
	storage  *mockStorage
	jobs     *mockJobManager
	ingest   *mockIngest
	dividend *mockDividendService
	subs     *mockSubscriptionService
}

// newTestServer builds a Server wired entirely to mocks. The static
// config key testKey authenticates without a stored user row.
func newTestServer(t *testing.T) *testFixture {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Auth.APIKey = testKey

	f := &testFixture{
		storage:  newMockStorage(),
		jobs:     newMockJobManager(),
		ingest:   &mockIngest{},
		dividend: &mockDividendService{},
		subs:     newMockSubscriptionService(),
	}

	a := &app.App{
		Config:              cfg,
		Logger:              common.NewSilentLogger(),
		Storage:             f.storage,
		JobManager:          f.jobs,
		IngestService:       f.ingest,
		DividendService:     f.dividend,
		SubscriptionService: f.subs,
	}
	f.server = NewServer(a)
	return f
}

// do runs one request through the full middleware chain.
func (f *testFixture) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	var r *strings.Reader
	if body == "" {
		r = strings.NewReader("")
	} else {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}
