package service

import (
	"context"
	"errors"
	"strconv"
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
	"github.com/NoraXie/echoid/internal/secure"
	"github.com/NoraXie/echoid/internal/util"
)

const (
	webhookRatePrefix = "webhook:"

	defaultReplyTemplate = "Tu código {app_name} es {otp}. {link}"
	maskedOTP            = "****"
	maskedLink           = "[link]"

	hijackRiskScore   = 90
	mismatchRiskScore = 60
)

// WebhookStores groups the Redis stores the pipeline touches.
type WebhookStores struct {
	RateLimits *redisrepo.RateLimitCache
	Locks      *redisrepo.IdempotencyCache
	Sessions   *redisrepo.SessionCache
	OTPs       *redisrepo.OTPCache
	Templates  *redisrepo.TemplateCache
}

// WebhookService turns inbound channel messages into claimed sessions and OTP replies.
type WebhookService struct {
	cfg       config.EchoConfig
	stores    WebhookStores
	links     *LinkService
	hasher    *hashing.Hasher
	messenger Messenger
	billing   BillingSubmitter
	recorder  audit.Recorder
	logger    *zap.Logger
	billLog   *zap.Logger
	now       func() time.Time
}

func NewWebhookService(
	cfg *config.Config,
	stores WebhookStores,
	links *LinkService,
	hasher *hashing.Hasher,
	messenger Messenger,
	billing BillingSubmitter,
	recorder audit.Recorder,
) *WebhookService {
	return &WebhookService{
		cfg:       cfg.Echo,
		stores:    stores,
		links:     links,
		hasher:    hasher,
		messenger: messenger,
		billing:   billing,
		recorder:  recorder,
		logger:    util.Named("webhook"),
		billLog:   util.Named("billing"),
		now:       time.Now,
	}
}

// HandlePayload normalizes either payload shape and runs the pipeline.
func (s *WebhookService) HandlePayload(ctx context.Context, payload *models.WebhookPayload) models.WebhookResult {
	msg, ok := payload.Normalize()
	if !ok {
		reason := models.ReasonInvalidPayload
		if !payload.IsSimulation() && payload.Event != "" && payload.Event != "message" {
			reason = models.ReasonUnsupportedEvent
		}
		metrics.RecordWebhook(models.WebhookStatusIgnored, reason)
		return models.WebhookResult{Status: models.WebhookStatusIgnored}
	}
	return s.HandleMessage(ctx, msg)
}

// Simulate feeds a message from phone carrying token through the same pipeline.
func (s *WebhookService) Simulate(ctx context.Context, phone, token string) models.WebhookResult {
	sender := strings.TrimSpace(phone)
	text := strings.TrimSpace(token)
	ts := strconv.FormatInt(s.now().UnixNano(), 10)
	return s.HandlePayload(ctx, &models.WebhookPayload{
		Sender:    &sender,
		Text:      &text,
		Timestamp: []byte(ts),
	})
}

// HandleMessage runs the ingestion steps in order; the first one that fails
// decides the result.
func (s *WebhookService) HandleMessage(ctx context.Context, msg models.InboundMessage) (result models.WebhookResult) {
	defer func() {
		metrics.RecordWebhook(result.Status, result.Msg)
	}()

	sender := models.NormalizeAddress(msg.Sender)
	log := s.logger.With(util.Phone("sender", sender), zap.String("message_id", msg.MessageID))

	allowed, err := s.stores.RateLimits.Allow(ctx, webhookRatePrefix+sender, s.cfg.WebhookRateLimit, s.cfg.WebhookRatePeriod)
	if err != nil {
		log.Error("Rate limiter unavailable", zap.Error(err))
		return models.Ignored(models.ReasonUnavailable)
	}
	if !allowed {
		log.Info("Sender rate limited")
		return models.Ignored(models.ReasonRateLimited)
	}

	token, ok := secure.ExtractToken(msg.Body)
	if !ok {
		return models.Ignored(models.ReasonNoToken)
	}
	log = log.With(util.Secret("token", token))

	acquired, err := s.stores.Locks.Acquire(ctx, msg.MessageID, s.cfg.LockTTL)
	if err != nil {
		log.Error("Idempotency lock unavailable", zap.Error(err))
		return models.Ignored(models.ReasonUnavailable)
	}
	if !acquired {
		log.Debug("Duplicate message")
		return models.WebhookResult{Status: models.WebhookStatusOK, Msg: models.ReasonDuplicate}
	}

	var claimedBy string
	session, err := s.stores.Sessions.Update(ctx, token, s.cfg.SessionTTL, func(vs *models.VerificationSession) error {
		claimedBy = vs.WaID
		return vs.Claim(msg.Sender, s.now())
	})
	if err != nil {
		return s.rejectClaim(ctx, log, token, sender, claimedBy, err)
	}

	log.Info("Session claimed", zap.String("tenant_id", session.TenantID))
	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventClaimed,
		TenantID:  session.TenantID,
		Token:     token,
		AppName:   session.AppName,
		CreatedAt: s.now().UTC(),
	})

	if err := s.humanize(ctx, log, msg.Sender); err != nil {
		return models.Ignored(models.ReasonUnavailable)
	}

	snapshot, err := s.reply(ctx, log, session, msg.Sender)
	if err != nil {
		return models.Ignored(models.ReasonSendFailed)
	}

	s.bill(ctx, session, sender, snapshot)
	return models.WebhookResult{Status: models.WebhookStatusOK}
}

func (s *WebhookService) rejectClaim(ctx context.Context, log *zap.Logger, token, sender, claimedBy string, err error) models.WebhookResult {
	switch {
	case errors.Is(err, redisrepo.ErrSessionNotFound):
		log.Info("No session for token")
		return models.Ignored(models.ReasonSessionNotFound)

	case errors.Is(err, models.ErrTokenAlreadyClaimed):
		log.Warn("Token already claimed by another address", util.Phone("claimed_by", claimedBy))
		s.recorder.SecurityEvent(ctx, models.SecurityEvent{
			EventType: models.SecurityEventHijackAttempt,
			Token:     token,
			Sender:    sender,
			ClaimedBy: models.NormalizeAddress(claimedBy),
			RiskScore: hijackRiskScore,
		})
		return models.Ignored(models.ReasonAlreadyClaimed)

	case errors.Is(err, models.ErrPhoneMismatch):
		log.Warn("Sender does not match the bound phone")
		s.recorder.SecurityEvent(ctx, models.SecurityEvent{
			EventType: models.SecurityEventPhoneMismatch,
			Token:     token,
			Sender:    sender,
			RiskScore: mismatchRiskScore,
		})
		return models.Ignored(models.ReasonPhoneMismatch)

	case errors.Is(err, models.ErrInvalidTransition):
		log.Info("Session no longer accepts claims", zap.Error(err))
		return models.Ignored(models.ReasonInvalidState)

	default:
		log.Error("Failed to claim session", zap.Error(err))
		return models.Ignored(models.ReasonUnavailable)
	}
}

// humanize shows the typing indicator for the configured delay. Indicator
// failures are logged only; a cancelled context ends the wait with an error.
func (s *WebhookService) humanize(ctx context.Context, log *zap.Logger, chatID string) error {
	if err := s.messenger.StartTyping(ctx, chatID); err != nil {
		log.Debug("Start typing failed", zap.Error(err))
	}

	if s.cfg.TypingDelay > 0 {
		timer := time.NewTimer(s.cfg.TypingDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			log.Info("Request cancelled while typing", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}

	if err := s.messenger.StopTyping(ctx, chatID); err != nil {
		log.Debug("Stop typing failed", zap.Error(err))
	}
	return nil
}

// reply issues the OTP and short link, sends them and returns the masked
// message kept for billing.
func (s *WebhookService) reply(ctx context.Context, log *zap.Logger, session *models.VerificationSession, chatID string) (string, error) {
	otp, err := secure.GenerateOTP()
	if err != nil {
		log.Error("Failed to generate OTP", zap.Error(err))
		return "", err
	}
	hash, err := s.hasher.HashOTP(otp)
	if err != nil {
		log.Error("Failed to hash OTP", zap.Error(err))
		return "", err
	}
	if err := s.stores.OTPs.SetOTP(ctx, session.Token, hash, s.cfg.OTPTTL); err != nil {
		return "", err
	}

	link, err := s.links.CreateShortLink(ctx, session.Token, otp)
	if err != nil {
		log.Error("Failed to create short link", zap.Error(err))
		return "", err
	}

	tpl, err := s.stores.Templates.Random(ctx)
	if err != nil || tpl == "" {
		tpl = s.defaultTemplate()
	}

	if err := s.messenger.SendText(ctx, chatID, renderTemplate(tpl, session.AppName, otp, link)); err != nil {
		log.Error("Failed to send OTP reply", zap.Error(err))
		return "", err
	}

	log.Info("OTP reply sent")
	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventOTPSent,
		TenantID:  session.TenantID,
		Token:     session.Token,
		AppName:   session.AppName,
		CreatedAt: s.now().UTC(),
	})
	return renderTemplate(tpl, session.AppName, maskedOTP, maskedLink), nil
}

func (s *WebhookService) bill(ctx context.Context, session *models.VerificationSession, sender, snapshot string) {
	if session.TenantID == "" || s.billing == nil {
		return
	}

	phone := session.Phone
	if phone == "" {
		phone = sender
	}
	job := models.BillingJob{
		JobID:            uuid.NewString(),
		TenantID:         session.TenantID,
		Phone:            phone,
		Token:            session.Token,
		TemplateSnapshot: snapshot,
		Cost:             s.cfg.BillingCost,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.billing.Submit(context.WithoutCancel(ctx), job); err != nil {
		s.billLog.Error("Failed to submit billing job",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			util.Secret("token", job.Token),
			zap.Error(err))
	}
}

func (s *WebhookService) defaultTemplate() string {
	if s.cfg.DefaultTemplate != "" {
		return s.cfg.DefaultTemplate
	}
	return defaultReplyTemplate
}

func renderTemplate(tpl, appName, otp, link string) string {
	return strings.NewReplacer(
		"{app_name}", appName,
		"{otp}", otp,
		"{link}", link,
	).Replace(tpl)
}
