package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/config"
	"github.com/honeykyc/gateway/internal/identity"
)

const testAdminSecret = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                    "0",
		Env:                     "development",
		LogLevel:                "error",
		SessionIdleTimeout:      30 * time.Minute,
		SessionSweepInterval:    time.Minute,
		SessionArchiveRetention: time.Hour,
		TelecomOracleTimeout:    time.Second,
		WalletStartingBalance:   decimal.NewFromInt(50000),
		RiskThresholds:          config.DefaultRiskThresholds,
		RiskHoneypotLevel:       "HIGH",
		AdminSecret:             testAdminSecret,
		RateLimitRPM:            6000,
		RateLimitBurst:          1000,
	}
}

func newTestServerWith(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIdentityOracle(identity.NewStaticOracle(identity.DemoDirectory)),
		WithDrainDelay(0),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return s
}

// newTestServer creates a server with in-memory dependencies
func newTestServer(t *testing.T) *Server {
	return newTestServerWith(t, testConfig())
}

func do(t *testing.T, s *Server, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	checks, _ := resp["checks"].([]any)
	require.Len(t, checks, 1)
	assert.Equal(t, "telecom_oracle", checks[0].(map[string]any)["name"])
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w := do(t, s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodGet, "/health/live", nil)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health/live", nil, "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = do(t, s, http.MethodGet, "/health/live", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health/live", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 1
	cfg.RateLimitBurst = 2
	s := newTestServerWith(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s, http.MethodGet, "/health/live", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	want := map[string]bool{
		"POST:/api/verify/start":               false,
		"POST:/api/verify/device":              false,
		"POST:/api/verify/behavior":            false,
		"POST:/api/track/action":               false,
		"POST:/api/verify/risk":                false,
		"POST:/api/verify/route":               false,
		"POST:/api/verify/name-check":          false,
		"POST:/api/logout":                     false,
		"GET:/api/wallet/balance":              false,
		"POST:/api/wallet/send":                false,
		"POST:/api/wallet/add":                 false,
		"GET:/api/wallet/transactions":         false,
		"GET:/api/honeypot/fake-balance":       false,
		"POST:/api/honeypot/fake-transfer":     false,
		"POST:/api/honeypot/track":             false,
		"POST:/api/honeypot/trap":              false,
		"GET:/api/admin-panel":                 false,
		"GET:/api/admin/dashboard":             false,
		"GET:/api/admin/sessions/:id":          false,
		"GET:/api/admin/suspicious-activity":   false,
		"GET:/api/admin/stream":                false,
	}
	for _, route := range s.router.Routes() {
		key := route.Method + ":" + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end tests
// ---------------------------------------------------------------------------

func TestAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/admin/dashboard", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/api/admin/dashboard", nil, "X-Admin-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/api/admin/dashboard", nil, "X-Admin-Secret", testAdminSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFraudsterShowsOnDashboard(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/verify/start", map[string]any{"name": "Fake Name", "mobile": "8888888888", "is_new_account": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["session_id"].(string)

	do(t, s, http.MethodPost, "/api/verify/behavior", map[string]any{"session_id": id, "type": "login_speed", "duration": 300})
	w = do(t, s, http.MethodPost, "/api/verify/route", map[string]any{"session_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HONEYPOT", decode(t, w)["route"])

	w = do(t, s, http.MethodPost, "/api/wallet/send", map[string]any{"session_id": id, "amount": "9999.99", "recipient": "mule"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/admin/dashboard", nil, "X-Admin-Secret", testAdminSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode(t, w)

	stats := dash["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_users"])
	assert.Equal(t, float64(1), stats["high_risk_users"])
	assert.Len(t, dash["recent_transactions"], 1)
	assert.Len(t, dash["suspicious_activities"], 1)

	w = do(t, s, http.MethodGet, "/api/admin/sessions/"+id, nil, "X-Admin-Secret", testAdminSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	s := newTestServerWith(t, cfg)

	w := do(t, s, http.MethodPost, "/api/verify/start", map[string]any{"name": "Rahul Sharma", "mobile": "9876543210"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["session_id"].(string)

	sess, err := s.Sessions().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Rahul Sharma", sess.ClaimedName)
	assert.True(t, mr.Exists("honeykyc:session:"+id))

	w = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["checks"], 2)
}

func TestRedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"
	_, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Error(t, err)
}

func TestPrivateOracleURLRejectedOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.TelecomOracleURL = "http://127.0.0.1:9000/lookup"
	_, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELECOM_ORACLE_URL")
}

func TestRiskConfigOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.RiskWeights = map[string]int{"new_account": 40}
	cfg.RiskHoneypotLevel = "CRITICAL"

	rc, err := riskConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 40, rc.Weights["new_account"])
	assert.Equal(t, "CRITICAL", string(rc.HoneypotLevel))

	cfg.RiskWeights = map[string]int{"moon_phase": 1}
	_, err = riskConfig(cfg)
	assert.Error(t, err)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:secret@db:5432/honeykyc")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "app")
	assert.Equal(t, "***", maskDSN("postgres://%zz"))
}

func TestShutdownWithoutRun(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.Shutdown())
}
