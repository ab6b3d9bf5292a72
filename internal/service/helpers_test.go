package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/hashing"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/repository/scylla"
	"github.com/NoraXie/echoid/internal/secure"
)

const (
	testAPIKey   = "eid_test-key"
	testTenantID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	userPhone    = "5215551234"
	otherPhone   = "5215559876"
)

var otpInReply = regexp.MustCompile(`es (\d{4})\.`)

type sentText struct {
	chatID string
	text   string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentText
	typing  int
	sendErr error
}

func (m *fakeMessenger) SendText(_ context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentText{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) StartTyping(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *fakeMessenger) StopTyping(context.Context, string) error { return nil }

func (m *fakeMessenger) messages() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}

type fakeBilling struct {
	mu   sync.Mutex
	jobs []models.BillingJob
}

func (b *fakeBilling) Submit(_ context.Context, job models.BillingJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, job)
	return nil
}

type fakeTenants struct {
	mu      sync.Mutex
	byKey   map[string]*models.Tenant
	byID    map[string]*models.Tenant
	adjusts []int64
	err     error
}

func newFakeTenants(tenants ...*models.Tenant) *fakeTenants {
	f := &fakeTenants{byKey: map[string]*models.Tenant{}, byID: map[string]*models.Tenant{}}
	for _, t := range tenants {
		f.byKey[t.APIKeyHash] = t
		f.byID[t.TenantID] = t
	}
	return f
}

func (f *fakeTenants) Create(_ context.Context, t *models.Tenant, apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKey[apiKey] = t
	f.byID[t.TenantID] = t
	return nil
}

func (f *fakeTenants) GetByID(_ context.Context, id string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		return t, nil
	}
	return nil, scylla.ErrTenantNotFound
}

// GetByAPIKey keys the fake by the raw key; APIKeyHash holds it in these tests.
func (f *fakeTenants) GetByAPIKey(_ context.Context, apiKey string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byKey[apiKey]; ok {
		return t, nil
	}
	return nil, scylla.ErrTenantNotFound
}

func (f *fakeTenants) AdjustBalance(_ context.Context, id string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	t, ok := f.byID[id]
	if !ok {
		return 0, scylla.ErrTenantNotFound
	}
	t.BalanceMicros += delta
	f.adjusts = append(f.adjusts, delta)
	return t.BalanceMicros, nil
}

type fakeRecorder struct {
	mu           sync.Mutex
	security     []models.SecurityEvent
	verification []models.VerificationEvent
}

func (r *fakeRecorder) SecurityEvent(_ context.Context, ev models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.security = append(r.security, ev)
}

func (r *fakeRecorder) VerificationEvent(_ context.Context, ev models.VerificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verification = append(r.verification, ev)
}

func (r *fakeRecorder) securityTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, ev := range r.security {
		types = append(types, ev.EventType)
	}
	return types
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
		Bucketing: config.BucketingConfig{TransactionBuckets: 16, EventBuckets: 16},
		Echo: config.EchoConfig{
			HostURL:            "https://id.example.com",
			LinkDomains:        []string{"l1.example.com"},
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
			BillingCost:        0.05,
		},
	}
}

type harness struct {
	cfg       *config.Config
	mr        *miniredis.Miniredis
	redis     *client.RedisClient
	factory   *ServiceFactory
	messenger *fakeMessenger
	billing   *fakeBilling
	tenants   *fakeTenants
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		cfg:       cfg,
		mr:        mr,
		redis:     client.WrapRedisClient(rdb),
		messenger: &fakeMessenger{},
		billing:   &fakeBilling{},
		recorder:  &fakeRecorder{},
		tenants: newFakeTenants(&models.Tenant{
			TenantID:      testTenantID,
			Name:          "Acme",
			APIKeyHash:    testAPIKey,
			BalanceMicros: models.ToMicros(10),
			IsActive:      true,
		}),
	}
	h.factory = NewServiceFactory(Dependencies{
		Config:    cfg,
		Redis:     h.redis,
		Tenants:   h.tenants,
		Hasher:    hashing.NewHasher(cfg),
		Messenger: h.messenger,
		Billing:   h.billing,
		Recorder:  h.recorder,
	})
	return h
}

func (h *harness) init(t *testing.T, phone string) string {
	t.Helper()
	resp, err := h.factory.VerificationService().Init(context.Background(), InitRequest{
		APIKey:        testAPIKey,
		AppName:       "Acme",
		CodeChallenge: secure.ChallengeS256(testVerifier),
		Phone:         phone,
	})
	require.NoError(t, err)
	return resp.Token
}

func (h *harness) send(sender, body, messageID string) models.WebhookResult {
	return h.factory.WebhookService().HandleMessage(context.Background(), models.InboundMessage{
		Sender:    sender,
		Body:      body,
		MessageID: messageID,
	})
}

func (h *harness) session(t *testing.T, token string) *models.VerificationSession {
	t.Helper()
	s, err := h.factory.sessions.Get(context.Background(), token)
	require.NoError(t, err)
	return s
}

func lastOTP(t *testing.T, m *fakeMessenger) string {
	t.Helper()
	msgs := m.messages()
	require.NotEmpty(t, msgs)
	match := otpInReply.FindStringSubmatch(msgs[len(msgs)-1].text)
	require.Len(t, match, 2, "reply %q carries no OTP", msgs[len(msgs)-1].text)
	return match[1]
}
