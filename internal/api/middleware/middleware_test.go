package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/license"
	"github.com/nexbridge/snowgate/internal/metering"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Store ---

type mockStore struct {
	store.Store

	customers   map[string]*models.Customer
	integrators map[string]*models.ServiceIntegrator

	mu    sync.Mutex
	usage []*models.UsageLogEntry
}

func newMockStore() *mockStore {
	return &mockStore{
		customers:   map[string]*models.Customer{},
		integrators: map[string]*models.ServiceIntegrator{},
	}
}

func (m *mockStore) GetCustomerByLicenseKey(_ context.Context, key string) (*models.Customer, error) {
	c, ok := m.customers[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *mockStore) GetServiceIntegratorByMasterKey(_ context.Context, key string) (*models.ServiceIntegrator, error) {
	si, ok := m.integrators[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return si, nil
}

func (m *mockStore) InsertUsageEntry(_ context.Context, entry *models.UsageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, entry)
	return nil
}

func (m *mockStore) IncrementCustomerAPICalls(_ context.Context, _ uuid.UUID) error { return nil }

// --- Mock Cache ---

type mockCache struct {
	mu       sync.Mutex
	counters map[string]int64
	window   time.Duration
	err      error
}

func newMockCache() *mockCache {
	return &mockCache{counters: map[string]int64{}}
}

func (m *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (m *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (m *mockCache) Delete(_ context.Context, _ string) error                          { return nil }
func (m *mockCache) Ping(_ context.Context) error                                      { return nil }

func (m *mockCache) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	m.counters[key]++
	remaining := m.window
	if remaining == 0 {
		remaining = window
	}
	return m.counters[key], remaining, nil
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func seedCustomer(ms *mockStore, key, status, plan string) *models.Customer {
	c := &models.Customer{
		ID:         uuid.New(),
		Name:       "Acme Corp",
		LicenseKey: key,
		Status:     status,
		Plan:       plan,
	}
	ms.customers[key] = c
	return c
}

func authWith(ms *mockStore) *mw.Auth {
	return mw.NewAuth(license.NewRegistry(ms, newMockCache(), 0))
}

func doAuthed(handler http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/mcp/tools/call", nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	handler := authWith(newMockStore()).Authenticate(okHandler())

	w := doAuthed(handler, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_LICENSE", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	handler := authWith(newMockStore()).Authenticate(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/mcp/tools/call", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MalformedLicenseKey(t *testing.T) {
	handler := authWith(newMockStore()).Authenticate(okHandler())

	w := doAuthed(handler, "not-a-license")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_LICENSE_FORMAT", errBody(t, w)["code"])
}

func TestAuth_UnknownLicenseKey(t *testing.T) {
	handler := authWith(newMockStore()).Authenticate(okHandler())

	w := doAuthed(handler, "SNOW-ENT-XXXX-0000")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "LICENSE_NOT_FOUND", errBody(t, w)["code"])
}

func TestAuth_SuspendedLicense(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusSuspended, models.PlanStandard)
	handler := authWith(ms).Authenticate(okHandler())

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LICENSE_SUSPENDED", errBody(t, w)["code"])
}

func TestAuth_ChurnedLicense(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusChurned, models.PlanStandard)
	handler := authWith(ms).Authenticate(okHandler())

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LICENSE_CHURNED", errBody(t, w)["code"])
}

func TestAuth_ValidLicense(t *testing.T) {
	ms := newMockStore()
	want := seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanEnterprise)

	var gotCustomer *models.Customer
	var gotInstance string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCustomer, _ = mw.GetCustomer(r)
		gotInstance = mw.GetInstanceID(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := authWith(ms).Authenticate(inner)

	req := httptest.NewRequest("POST", "/api/v1/mcp/tools/call", nil)
	req.Header.Set("Authorization", "Bearer SNOW-ENT-ACME-1234")
	req.Header.Set("X-Instance-Id", "desktop-7f3a")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotCustomer)
	assert.Equal(t, want.ID, gotCustomer.ID)
	assert.Equal(t, models.PlanEnterprise, gotCustomer.Plan)
	assert.Equal(t, "desktop-7f3a", gotInstance)
}

func TestAuth_ClientVersionInContext(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)

	var gotVersion string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = mw.GetClientVersion(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := authWith(ms).Authenticate(inner)

	req := httptest.NewRequest("POST", "/api/v1/mcp/tools/call", nil)
	req.Header.Set("Authorization", "Bearer SNOW-ENT-ACME-1234")
	req.Header.Set("X-Client-Version", "2.4.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2.4.1", gotVersion)
}

func TestAuthMaster_Valid(t *testing.T) {
	ms := newMockStore()
	si := &models.ServiceIntegrator{ID: uuid.New(), Status: models.StatusActive}
	ms.integrators["SNOW-SI-ABCD-1234"] = si

	var got *models.ServiceIntegrator
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = mw.GetIntegrator(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := authWith(ms).AuthenticateMaster(inner)

	w := doAuthed(handler, "SNOW-SI-ABCD-1234")
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, si.ID, got.ID)
}

func TestAuthMaster_CustomerKeyRejected(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	handler := authWith(ms).AuthenticateMaster(okHandler())

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_LICENSE_FORMAT", errBody(t, w)["code"])
}

// ========================================
// Logger Middleware Tests
// ========================================

// captureLog swaps the default slog handler for one writing JSON lines into
// the returned buffer, restoring the original when the test ends.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func TestLogger_EmitsTenantFields(t *testing.T) {
	buf := captureLog(t)

	ms := newMockStore()
	want := seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanEnterprise)
	handler := mw.Logger(authWith(ms).Authenticate(okHandler()))

	req := httptest.NewRequest("POST", "/api/v1/mcp/tools/call", nil)
	req.Header.Set("Authorization", "Bearer SNOW-ENT-ACME-1234")
	req.Header.Set("X-Instance-Id", "desktop-7f3a")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	record := lastLogLine(t, buf)
	assert.Equal(t, "request", record["msg"])
	assert.Equal(t, want.ID.String(), record["customer_id"])
	assert.Equal(t, models.PlanEnterprise, record["plan"])
	assert.Equal(t, "desktop-7f3a", record["instance_id"])
	assert.EqualValues(t, http.StatusOK, record["status"])
}

func TestLogger_UnauthenticatedOmitsTenantFields(t *testing.T) {
	buf := captureLog(t)

	handler := mw.Logger(authWith(newMockStore()).Authenticate(okHandler()))
	doAuthed(handler, "")

	record := lastLogLine(t, buf)
	assert.EqualValues(t, http.StatusUnauthorized, record["status"])
	_, hasCustomer := record["customer_id"]
	assert.False(t, hasCustomer)
}

func TestLogger_EmitsIntegratorOnMasterRoutes(t *testing.T) {
	buf := captureLog(t)

	ms := newMockStore()
	si := &models.ServiceIntegrator{ID: uuid.New(), Status: models.StatusActive}
	ms.integrators["SNOW-SI-ABCD-1234"] = si
	handler := mw.Logger(authWith(ms).AuthenticateMaster(okHandler()))

	doAuthed(handler, "SNOW-SI-ABCD-1234")

	record := lastLogLine(t, buf)
	assert.Equal(t, si.ID.String(), record["integrator_id"])
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func planLimits() map[string]int {
	return map[string]int{
		models.PlanStandard:     100,
		models.PlanProfessional: 300,
		models.PlanEnterprise:   1000,
	}
}

func limitedHandler(ms *mockStore, mc *mockCache, window time.Duration) (http.Handler, *metering.Recorder) {
	meter := metering.NewRecorder(ms, 64)
	rl := mw.NewRateLimit(mc, meter, window, planLimits())
	auth := authWith(ms)
	return auth.Authenticate(rl.Limit(okHandler())), meter
}

func TestRateLimit_UnderLimit(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	handler, meter := limitedHandler(ms, newMockCache(), time.Minute)
	defer meter.Close()

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_101stCallRejected(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	mc := newMockCache()
	window := time.Minute
	handler, meter := limitedHandler(ms, mc, window)
	defer meter.Close()

	var w *httptest.ResponseRecorder
	for i := 0; i < 101; i++ {
		w = doAuthed(handler, "SNOW-ENT-ACME-1234")
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := errBody(t, w)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, int(window.Seconds()),
		"advertised wait must not exceed the window")

	details := body["details"].(map[string]any)
	assert.EqualValues(t, retryAfter, details["retry_after_seconds"])
}

func TestRateLimit_RetryAfterTracksWindowRemainder(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	mc := newMockCache()
	mc.window = 17 * time.Second // mid-window
	handler, meter := limitedHandler(ms, mc, time.Minute)
	defer meter.Close()

	var w *httptest.ResponseRecorder
	for i := 0; i < 101; i++ {
		w = doAuthed(handler, "SNOW-ENT-ACME-1234")
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "17", w.Header().Get("Retry-After"))
}

func TestRateLimit_PerPlanLimits(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanEnterprise)
	handler, meter := limitedHandler(ms, newMockCache(), time.Minute)
	defer meter.Close()

	var w *httptest.ResponseRecorder
	for i := 0; i < 101; i++ {
		w = doAuthed(handler, "SNOW-ENT-ACME-1234")
	}

	assert.Equal(t, http.StatusOK, w.Code, "enterprise plan allows 1000 calls per window")
	assert.Equal(t, "1000", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_UnknownPlanFallsBack(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, "trial")
	handler, meter := limitedHandler(ms, newMockCache(), time.Minute)
	defer meter.Close()

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	mc := newMockCache()
	mc.err = context.DeadlineExceeded
	handler, meter := limitedHandler(ms, mc, time.Minute)
	defer meter.Close()

	w := doAuthed(handler, "SNOW-ENT-ACME-1234")
	assert.Equal(t, http.StatusOK, w.Code, "Redis failure must not take the gateway down")
}

func TestRateLimit_RejectionIsMetered(t *testing.T) {
	ms := newMockStore()
	seedCustomer(ms, "SNOW-ENT-ACME-1234", models.StatusActive, models.PlanStandard)
	handler, meter := limitedHandler(ms, newMockCache(), time.Minute)

	for i := 0; i < 101; i++ {
		doAuthed(handler, "SNOW-ENT-ACME-1234")
	}
	meter.Close()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.NotEmpty(t, ms.usage)
	last := ms.usage[len(ms.usage)-1]
	assert.Equal(t, "rate_limited", last.Category)
	assert.False(t, last.Success)
}

func TestRateLimit_NoCustomerPassesThrough(t *testing.T) {
	meter := metering.NewRecorder(newMockStore(), 8)
	defer meter.Close()
	rl := mw.NewRateLimit(newMockCache(), meter, time.Minute, planLimits())
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
