package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/hashing"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/repository/scylla"
	"github.com/NoraXie/echoid/internal/secure"
	"github.com/NoraXie/echoid/internal/service"
)

const (
	apiKey    = "eid_handler-test"
	verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	phone     = "5215551234"
	androidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36"
)

var (
	otpPattern  = regexp.MustCompile(`es (\d{4})\.`)
	slugPattern = regexp.MustCompile(`/q/([A-Za-z0-9_-]{8})`)
)

type recordingMessenger struct {
	mu   sync.Mutex
	last string
}

func (m *recordingMessenger) SendText(_ context.Context, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = text
	return nil
}

func (m *recordingMessenger) StartTyping(context.Context, string) error { return nil }
func (m *recordingMessenger) StopTyping(context.Context, string) error  { return nil }

type staticTenants struct {
	tenant models.Tenant
}

func (s *staticTenants) Create(context.Context, *models.Tenant, string) error { return nil }

func (s *staticTenants) GetByID(context.Context, string) (*models.Tenant, error) {
	t := s.tenant
	return &t, nil
}

func (s *staticTenants) GetByAPIKey(_ context.Context, key string) (*models.Tenant, error) {
	if key != apiKey {
		return nil, scylla.ErrTenantNotFound
	}
	t := s.tenant
	return &t, nil
}

func (s *staticTenants) AdjustBalance(context.Context, string, int64) (int64, error) { return 0, nil }

type fakeHealth struct {
	checks  map[string]string
	healthy bool
}

func (f fakeHealth) HealthCheck(context.Context) (map[string]string, bool) {
	return f.checks, f.healthy
}

type testServer struct {
	*httptest.Server
	messenger *recordingMessenger
	tenants   *staticTenants
}

func newTestServer(t *testing.T, tweak ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		Version: "1.2.3",
		Hashing: config.HashingConfig{Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1, Pepper: "pepper"},
		Server: config.ServerConfig{
			AllowedOrigins:          []string{"*"},
			InitRequestsPerMinute:   100,
			VerifyRequestsPerMinute: 100,
		},
		Echo: config.EchoConfig{
			HostURL:            "https://id.example.com",
			LinkDomains:        []string{"l.example.com"},
			BotPhoneNumber:     "5215550000",
			AndroidPackageName: "com.example.app",
			URLScheme:          "echoid",
			RedirectMode:       config.RedirectModePage,
			SessionTTL:         10 * time.Minute,
			OTPTTL:             5 * time.Minute,
			ShortLinkTTL:       5 * time.Minute,
			LockTTL:            time.Hour,
			WebhookRateLimit:   10,
			WebhookRatePeriod:  time.Minute,
			InitRateLimit:      5,
			InitRatePeriod:     time.Minute,
			TemplateLanguage:   "es_mx",
			EnableSimulation:   true,
		},
	}
	for _, fn := range tweak {
		fn(cfg)
	}

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ts := &testServer{
		messenger: &recordingMessenger{},
		tenants: &staticTenants{tenant: models.Tenant{
			TenantID:      "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			BalanceMicros: models.ToMicros(5),
			IsActive:      true,
		}},
	}
	services := service.NewServiceFactory(service.Dependencies{
		Config:    cfg,
		Redis:     client.WrapRedisClient(rdb),
		Tenants:   ts.tenants,
		Hasher:    hashing.NewHasher(cfg),
		Messenger: ts.messenger,
	})

	router := NewRouter(cfg, NewEchoHandler(services, zap.NewNop()), fakeHealth{
		checks:  map[string]string{"redis": "ok", "scylla": "dial tcp: refused"},
		healthy: false,
	}, zap.NewNop())
	ts.Server = httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	httpClient := &http.Client{CheckRedirect: noRedirect}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func initBody(extra string) string {
	body := `{"api_key":"` + apiKey + `","app_name":"Acme","code_challenge":"` + secure.ChallengeS256(verifier) + `"`
	if extra != "" {
		body += "," + extra
	}
	return body + "}"
}

func (ts *testServer) initSession(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/init", initBody(`"phone":"+52 1 555 1234"`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool                 `json:"success"`
		Data    service.InitResponse `json:"data"`
	}
	decodeBody(t, resp, &out)
	require.True(t, out.Success)
	return out.Data.Token
}

func (ts *testServer) claim(t *testing.T, token string) (otp, slug string) {
	t.Helper()
	payload := `{"event":"message","payload":{"from":"` + phone + `@c.us","body":"` + token + `","id":"wamid.` + token + `"}}`
	resp := ts.do(t, http.MethodPost, "/webhook/echob", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.WebhookResult
	decodeBody(t, resp, &result)
	require.Equal(t, models.WebhookStatusOK, result.Status)

	ts.messenger.mu.Lock()
	text := ts.messenger.last
	ts.messenger.mu.Unlock()
	return otpPattern.FindStringSubmatch(text)[1], slugPattern.FindStringSubmatch(text)[1]
}

func TestInit(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/init", initBody(`"package_name":"com.acme.app"`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data service.InitResponse `json:"data"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "https://id.example.com/v1/go/"+out.Data.Token, out.Data.DeepLink)
	assert.Equal(t, 600, out.Data.ExpiresIn)
}

func TestInit_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"api_key":`, http.StatusBadRequest},
		{"missing challenge", `{"api_key":"` + apiKey + `","app_name":"Acme"}`, http.StatusBadRequest},
		{"markup in app name", strings.Replace(initBody(""), `"Acme"`, `"<b>Acme</b>"`, 1), http.StatusBadRequest},
		{"bad package", initBody(`"package_name":"not a package"`), http.StatusBadRequest},
		{"bad phone", initBody(`"phone":"call me"`), http.StatusBadRequest},
		{"unknown key", strings.Replace(initBody(""), apiKey, "eid_nope", 1), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/v1/init", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)

			var out Response
			decodeBody(t, resp, &out)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
		})
	}

	ts.tenants.tenant.BalanceMicros = 0
	assert.Equal(t, http.StatusPaymentRequired, ts.do(t, http.MethodPost, "/v1/init", initBody("")).StatusCode)
}

func TestRelayLinkRedirectsToChannel(t *testing.T) {
	ts := newTestServer(t)
	token := ts.initSession(t)

	resp := ts.do(t, http.MethodGet, "/v1/go/"+token, "")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://wa.me/5215550000?text="+token, resp.Header.Get("Location"))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/go/ZZ9999", "").StatusCode)
}

func TestEndToEnd_VerifyOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token := ts.initSession(t)
	otp, slug := ts.claim(t, token)

	page := ts.do(t, http.MethodGet, "/q/"+slug, "", "User-Agent", androidUA)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.Header.Get("Content-Type"), "text/html")

	resp := ts.do(t, http.MethodPost, "/v1/verify", `{"token":"`+token+`","otp":"`+otp+`","code_verifier":"`+verifier+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data service.VerifyResponse `json:"data"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "verified", out.Data.Status)
	assert.Equal(t, phone+"@c.us", out.Data.WaID)

	replay := ts.do(t, http.MethodPost, "/v1/verify", `{"token":"`+token+`","otp":"`+otp+`","code_verifier":"`+verifier+`"}`)
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
}

func TestVerify_PKCEFailureIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	token := ts.initSession(t)
	otp, _ := ts.claim(t, token)

	wrong := strings.Repeat("A", 43)
	resp := ts.do(t, http.MethodPost, "/v1/verify", `{"token":"`+token+`","otp":"`+otp+`","code_verifier":"`+wrong+`"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVerify_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/verify", `{"token":"AB2345"}`).StatusCode)

	resp := ts.do(t, http.MethodPost, "/v1/verify", `{"token":"AB2345","otp":"1234"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out Response
	decodeBody(t, resp, &out)
	assert.Equal(t, "invalid or expired session", out.Error)
}

func TestShortLink_RedirectMode(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Echo.RedirectMode = config.RedirectModeRedirect })
	token := ts.initSession(t)
	otp, slug := ts.claim(t, token)

	android := ts.do(t, http.MethodGet, "/q/"+slug, "", "User-Agent", androidUA)
	assert.Equal(t, http.StatusFound, android.StatusCode)
	assert.Equal(t, "intent://login?token="+token+"&otp="+otp+"#Intent;scheme=echoid;package=com.example.app;end;", android.Header.Get("Location"))

	ios := ts.do(t, http.MethodGet, "/q/"+slug, "", "User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	assert.Equal(t, http.StatusFound, ios.StatusCode)
	assert.Equal(t, "echoid://login?token="+token+"&otp="+otp, ios.Header.Get("Location"))
}

func TestShortLink_Missing(t *testing.T) {
	ts := newTestServer(t)

	html := ts.do(t, http.MethodGet, "/q/nosuchid", "")
	assert.Equal(t, http.StatusNotFound, html.StatusCode)
	assert.Contains(t, html.Header.Get("Content-Type"), "text/html")

	js := ts.do(t, http.MethodGet, "/q/nosuchid", "", "Accept", "application/json")
	assert.Equal(t, http.StatusNotFound, js.StatusCode)
	assert.Contains(t, js.Header.Get("Content-Type"), "application/json")
}

func TestWebhook_InvalidJSONIsIgnored(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/webhook/echob", `{not json`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	decodeBody(t, resp, &result)
	assert.Equal(t, map[string]interface{}{"status": "ignored"}, result)
}

func TestWebhook_SimulationShapeFromNonPhoneSender(t *testing.T) {
	ts := newTestServer(t)
	token := ts.initSession(t)

	for _, sender := range []string{"mallory", "+@x", "12345"} {
		resp := ts.do(t, http.MethodPost, "/webhook/echob", `{"sender":"`+sender+`","text":"`+token+`","timestamp":1700000000}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result map[string]interface{}
		decodeBody(t, resp, &result)
		assert.Equal(t, map[string]interface{}{"status": "ignored"}, result, sender)
	}
}

func TestSimulate(t *testing.T) {
	ts := newTestServer(t)
	token := ts.initSession(t)

	resp := ts.do(t, http.MethodPost, "/v1/simulate/user-send-message", `{"phone":"`+phone+`","token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status string               `json:"status"`
		Result models.WebhookResult `json:"result"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "simulated", out.Status)
	assert.Equal(t, models.WebhookStatusOK, out.Result.Status)
}

func TestSimulate_DisabledRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Echo.EnableSimulation = false })

	resp := ts.do(t, http.MethodPost, "/v1/simulate/user-send-message", `{"phone":"`+phone+`","token":"AB2345"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJump(t *testing.T) {
	ts := newTestServer(t)

	ok := ts.do(t, http.MethodGet, "/jump?t=AB2345&o=0042", "")
	assert.Equal(t, http.StatusFound, ok.StatusCode)
	assert.Equal(t, "echoid://login?token=AB2345&otp=0042", ok.Header.Get("Location"))

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/jump?t=AB2345&o=x", "").StatusCode)
}

func TestBannerHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var banner map[string]string
	decodeBody(t, ts.do(t, http.MethodGet, "/", ""), &banner)
	assert.Equal(t, "1.2.3", banner["version"])

	health := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, health.StatusCode)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, health, &body)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/nope", "").StatusCode)
}

func TestRequireHTTPS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.RequireHTTPS = true })

	assert.Equal(t, http.StatusUpgradeRequired, ts.do(t, http.MethodGet, "/", "").StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/", "", "X-Forwarded-Proto", "https").StatusCode)
}

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, getStatusCode(service.ErrInsufficientBalance))
	assert.Equal(t, http.StatusTooManyRequests, getStatusCode(service.ErrRateLimited))
	assert.Equal(t, http.StatusNotFound, getStatusCode(service.ErrSessionNotFound))
	assert.Equal(t, http.StatusInternalServerError, getStatusCode(context.DeadlineExceeded))
}
