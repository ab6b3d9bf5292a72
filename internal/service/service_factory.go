package service

import (
	"github.com/NoraXie/echoid/internal/audit"
	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/hashing"
	redisrepo "github.com/NoraXie/echoid/internal/repository/redis"
	"github.com/NoraXie/echoid/internal/repository/scylla"
)

// Dependencies are the collaborators shared by all services.
type Dependencies struct {
	Config    *config.Config
	Redis     *client.RedisClient
	Tenants   scylla.TenantStore
	Hasher    *hashing.Hasher
	Messenger Messenger
	Billing   BillingSubmitter
	Recorder  audit.Recorder
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps       Dependencies
	sessions   *redisrepo.SessionCache
	otps       *redisrepo.OTPCache
	rateLimits *redisrepo.RateLimitCache

	linkService         *LinkService
	verificationService *VerificationService
	webhookService      *WebhookService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies) *ServiceFactory {
	if deps.Recorder == nil {
		deps.Recorder = audit.Nop{}
	}
	return &ServiceFactory{
		deps:       deps,
		sessions:   redisrepo.NewSessionCache(deps.Redis),
		otps:       redisrepo.NewOTPCache(deps.Redis),
		rateLimits: redisrepo.NewRateLimitCache(deps.Redis),
	}
}

// LinkService returns the link service instance (singleton)
func (f *ServiceFactory) LinkService() *LinkService {
	if f.linkService == nil {
		f.linkService = NewLinkService(
			f.deps.Config,
			f.sessions,
			redisrepo.NewShortLinkCache(f.deps.Redis),
			f.deps.Recorder,
		)
	}
	return f.linkService
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.deps.Config,
			f.deps.Tenants,
			f.sessions,
			f.otps,
			f.rateLimits,
			f.LinkService(),
			f.deps.Hasher,
			f.deps.Recorder,
		)
	}
	return f.verificationService
}

// WebhookService returns the webhook service instance (singleton)
func (f *ServiceFactory) WebhookService() *WebhookService {
	if f.webhookService == nil {
		f.webhookService = NewWebhookService(
			f.deps.Config,
			WebhookStores{
				RateLimits: f.rateLimits,
				Locks:      redisrepo.NewIdempotencyCache(f.deps.Redis),
				Sessions:   f.sessions,
				OTPs:       f.otps,
				Templates:  redisrepo.NewTemplateCache(f.deps.Redis, f.deps.Config.TemplateSetKey()),
			},
			f.LinkService(),
			f.deps.Hasher,
			f.deps.Messenger,
			f.deps.Billing,
			f.deps.Recorder,
		)
	}
	return f.webhookService
}
