package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/audit"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/hashing"
	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/models"
	redisrepo "github.com/NoraXie/echoid/internal/repository/redis"
	"github.com/NoraXie/echoid/internal/repository/scylla"
	"github.com/NoraXie/echoid/internal/secure"
	"github.com/NoraXie/echoid/internal/util"
)

const (
	initRatePrefix       = "init:"
	maxTokenCreateTries  = 5
	otpMismatchRiskScore = 40
	pkceFailureRiskScore = 70
)

// InitRequest starts a verification. Validation tags are checked by the handler.
type InitRequest struct {
	APIKey        string `json:"api_key" validate:"required,max=128"`
	AppName       string `json:"app_name" validate:"required,min=1,max=64,nomarkup"`
	CodeChallenge string `json:"code_challenge" validate:"required,len=43,base64rawurl"`
	PackageName   string `json:"package_name,omitempty" validate:"omitempty,max=255,javapackage"`
	Phone         string `json:"phone,omitempty" validate:"omitempty,e164ish"`
}

type InitResponse struct {
	DeepLink  string `json:"deep_link"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type VerifyRequest struct {
	Token        string `json:"token" validate:"required,min=6,max=10,alphanum"`
	OTP          string `json:"otp" validate:"required,len=4,numeric"`
	CodeVerifier string `json:"code_verifier,omitempty" validate:"omitempty,min=43,max=128"`
}

type VerifyResponse struct {
	Status string `json:"status"`
	WaID   string `json:"wa_id"`
}

// VerificationService owns the two caller-facing operations: Init and Verify.
type VerificationService struct {
	cfg        config.EchoConfig
	tenants    scylla.TenantStore
	sessions   *redisrepo.SessionCache
	otps       *redisrepo.OTPCache
	rateLimits *redisrepo.RateLimitCache
	links      *LinkService
	hasher     *hashing.Hasher
	recorder   audit.Recorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewVerificationService(
	cfg *config.Config,
	tenants scylla.TenantStore,
	sessions *redisrepo.SessionCache,
	otps *redisrepo.OTPCache,
	rateLimits *redisrepo.RateLimitCache,
	links *LinkService,
	hasher *hashing.Hasher,
	recorder audit.Recorder,
) *VerificationService {
	return &VerificationService{
		cfg:        cfg.Echo,
		tenants:    tenants,
		sessions:   sessions,
		otps:       otps,
		rateLimits: rateLimits,
		links:      links,
		hasher:     hasher,
		recorder:   recorder,
		logger:     util.Named("verification"),
		now:        time.Now,
	}
}

// Init authenticates the tenant, creates a pending session under a fresh
// token and returns the relay link for the end user.
func (s *VerificationService) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if strings.TrimSpace(req.APIKey) == "" || strings.TrimSpace(req.AppName) == "" {
		return nil, ErrInvalidInput
	}

	tenant, err := s.tenants.GetByAPIKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, scylla.ErrTenantNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to authenticate tenant: %w", err)
	}
	if !tenant.IsActive {
		return nil, ErrTenantInactive
	}
	if tenant.BalanceMicros <= 0 {
		s.logger.Info("Init refused, balance exhausted", zap.String("tenant_id", tenant.TenantID))
		return nil, ErrInsufficientBalance
	}

	phone := models.NormalizeAddress(req.Phone)
	if phone != "" {
		allowed, err := s.rateLimits.Allow(ctx, initRatePrefix+phone, s.cfg.InitRateLimit, s.cfg.InitRatePeriod)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrRateLimited
		}
	}

	session, err := s.createSession(ctx, tenant.TenantID, req, phone)
	if err != nil {
		return nil, err
	}

	metrics.SessionsCreated.Inc()
	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventInit,
		TenantID:  tenant.TenantID,
		Token:     session.Token,
		AppName:   session.AppName,
		CreatedAt: session.CreatedAt,
	})
	s.logger.Info("Verification initiated",
		zap.String("tenant_id", tenant.TenantID),
		util.Secret("token", session.Token),
		zap.Bool("phone_bound", phone != ""))

	return &InitResponse{
		DeepLink:  s.links.RelayLink(session.Token),
		Token:     session.Token,
		ExpiresIn: int(s.cfg.SessionTTL / time.Second),
	}, nil
}

func (s *VerificationService) createSession(ctx context.Context, tenantID string, req InitRequest, phone string) (*models.VerificationSession, error) {
	for attempt := 1; attempt <= maxTokenCreateTries; attempt++ {
		token, err := secure.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}

		session := models.NewVerificationSession(token, tenantID, req.AppName, req.CodeChallenge, req.PackageName, phone, s.now())
		err = s.sessions.Create(ctx, session, s.cfg.SessionTTL)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, redisrepo.ErrSessionExists) {
			return nil, err
		}
		s.logger.Debug("Token collision, regenerating", zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("failed to allocate a free token after %d attempts", maxTokenCreateTries)
}

// Verify consumes the OTP for token, checks the PKCE verifier and marks the
// session verified. The OTP is gone after the first call whatever the outcome.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	token := strings.ToUpper(strings.TrimSpace(req.Token))
	log := s.logger.With(util.Secret("token", token))

	hash, err := s.otps.TakeOTP(ctx, token)
	if err != nil {
		if errors.Is(err, redisrepo.ErrOTPNotFound) {
			metrics.RecordVerification("otp_not_found")
			return nil, ErrOTPNotFound
		}
		return nil, err
	}

	match, err := s.hasher.VerifyOTP(strings.TrimSpace(req.OTP), hash)
	if err != nil {
		log.Error("Stored OTP hash unreadable", zap.Error(err))
		return nil, fmt.Errorf("failed to verify OTP: %w", err)
	}
	if !match {
		metrics.RecordVerification("invalid_otp")
		s.recordFailure(ctx, token, "", models.SecurityEventOTPMismatch, otpMismatchRiskScore)
		return nil, ErrInvalidOTP
	}

	var tenantID string
	session, err := s.sessions.Update(ctx, token, 0, func(vs *models.VerificationSession) error {
		tenantID = vs.TenantID
		if vs.CodeChallenge != "" && !secure.VerifyPKCE(req.CodeVerifier, vs.CodeChallenge) {
			return ErrPKCEFailed
		}
		return vs.MarkVerified(s.now())
	})
	if err != nil {
		switch {
		case errors.Is(err, redisrepo.ErrSessionNotFound):
			metrics.RecordVerification("session_expired")
			return nil, ErrSessionNotFound
		case errors.Is(err, ErrPKCEFailed):
			metrics.RecordVerification("pkce_failed")
			log.Warn("PKCE verification failed", zap.String("tenant_id", tenantID))
			s.recordFailure(ctx, token, tenantID, models.SecurityEventPKCEFailure, pkceFailureRiskScore)
			return nil, ErrPKCEFailed
		case errors.Is(err, models.ErrInvalidTransition):
			metrics.RecordVerification("invalid_state")
			return nil, err
		}
		return nil, err
	}

	metrics.RecordVerification("verified")
	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventVerified,
		TenantID:  session.TenantID,
		Token:     token,
		AppName:   session.AppName,
		Outcome:   string(models.SessionVerified),
		CreatedAt: s.now().UTC(),
	})
	log.Info("Session verified", zap.String("tenant_id", session.TenantID))

	return &VerifyResponse{Status: string(models.SessionVerified), WaID: session.WaID}, nil
}

func (s *VerificationService) recordFailure(ctx context.Context, token, tenantID, eventType string, risk int) {
	s.recorder.SecurityEvent(ctx, models.SecurityEvent{
		EventType: eventType,
		TenantID:  tenantID,
		Token:     token,
		RiskScore: risk,
	})
	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventVerifyFailed,
		TenantID:  tenantID,
		Token:     token,
		Outcome:   eventType,
		CreatedAt: s.now().UTC(),
	})
}
