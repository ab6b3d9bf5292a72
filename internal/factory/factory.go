package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"github.com/NoraXie/echoid/internal/audit"
	"github.com/NoraXie/echoid/internal/billing"
	"github.com/NoraXie/echoid/internal/bucketing"
	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/encryption"
	"github.com/NoraXie/echoid/internal/hashing"
	redisrepo "github.com/NoraXie/echoid/internal/repository/redis"
	"github.com/NoraXie/echoid/internal/repository/scylla"
	"github.com/NoraXie/echoid/internal/service"
	"github.com/NoraXie/echoid/internal/tls"
	"github.com/NoraXie/echoid/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	gatewayClient    *client.GatewayClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	tenantRepository      *scylla.TenantRepository
	transactionRepository *scylla.TransactionRepository

	billingQueue   billing.Queue
	recorder       audit.Recorder
	auditSinks     *audit.Multi
	serviceFactory *service.ServiceFactory

	// background loops (pepper rotation, billing consumer)
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Options select what NewFactory brings up. The CLI maintenance commands only
// need the stores.
type Options struct {
	// StoresOnly skips the audit sinks, billing queue and gateway.
	StoresOnly bool
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(opts Options) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	factory := &Factory{
		config: cfg,
		cancel: cancel,
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeStores(ctx); err != nil {
		factory.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.tenantRepository = scylla.NewTenantRepository(factory.scyllaClient)
	factory.transactionRepository = scylla.NewTransactionRepository(factory.scyllaClient)

	if !opts.StoresOnly {
		if err := factory.initializePipeline(ctx); err != nil {
			factory.Close(context.Background())
			return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
		}
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeStores connects the two stores the protocol cannot run without.
func (f *Factory) initializeStores(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	util.Info("Redis client initialized and healthy")

	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.ApplySchema(ctx); err != nil {
		return fmt.Errorf("scylla schema: %w", err)
	}
	util.Info("ScyllaDB client initialized and schema applied")

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.hasher.StartPepperRotation(ctx)

	var keyService encryption.KeyService
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		keyService = kms.NewFromConfig(awsCfg)
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, keyService)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms_enabled", keyService != nil),
		util.Int("transaction_buckets", f.bucketingManager.TransactionBuckets()),
	)
	return nil
}

// initializePipeline brings up the audit sinks, the billing queue and the
// gateway. Optional backends that fail are fatal only in production.
func (f *Factory) initializePipeline(ctx context.Context) error {
	var initErrors []error

	f.auditSinks = &audit.Multi{}

	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		sink := audit.NewSecuritySink(esClient, f.config.Elasticsearch.SecurityIndex, f.bucketingManager, 1024)
		if err := sink.EnsureIndex(ctx); err != nil {
			util.Warn("Security index not ensured", util.ErrorField(err))
		}
		f.auditSinks.Security = sink
	}

	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		events := audit.NewClickhouseEvents(chClient)
		if err := events.EnsureTable(ctx); err != nil {
			util.Warn("Funnel table not ensured", util.ErrorField(err))
		}
		f.auditSinks.Funnel = audit.NewFunnelWriter(events,
			f.config.Clickhouse.BatchSize, f.config.Clickhouse.FlushInterval)
	}

	f.recorder = f.auditSinks
	if f.auditSinks.Security == nil && f.auditSinks.Funnel == nil {
		f.recorder = audit.Nop{}
	}

	processor := service.NewBillingProcessor(
		f.tenantRepository,
		f.transactionRepository,
		f.encryptionManager,
		f.bucketingManager,
	)
	if err := f.initializeBillingQueue(ctx, processor.Process); err != nil {
		initErrors = append(initErrors, err)
	}
	if f.billingQueue == nil {
		f.billingQueue = billing.NewPoolQueue(processor.Process, f.config.Billing.Workers, f.config.Billing.QueueSize)
	}

	f.gatewayClient = client.NewGatewayClient(f.config, util.Get())

	f.serviceFactory = service.NewServiceFactory(service.Dependencies{
		Config:    f.config,
		Redis:     f.redisClient,
		Tenants:   f.tenantRepository,
		Hasher:    f.hasher,
		Messenger: f.gatewayClient,
		Billing:   f.billingQueue,
		Recorder:  f.recorder,
	})

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeBillingQueue(ctx context.Context, handler billing.Handler) error {
	if !f.config.Kafka.Enabled {
		return nil
	}

	producer, err := client.NewKafkaProducer(f.config, f.config.Kafka.BillingTopic, util.Get())
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.BillingTopic, f.config.Kafka.GroupID, util.Get())
	if err != nil {
		_ = producer.Close()
		return fmt.Errorf("kafka consumer: %w", err)
	}
	f.kafkaProducer = producer
	f.kafkaConsumer = consumer

	queue := billing.NewKafkaQueue(producer, consumer, handler)
	queue.Start(ctx)
	f.billingQueue = queue
	util.Info("Billing queue backed by Kafka", util.String("topic", f.config.Kafka.BillingTopic))
	return nil
}

// ==============================
// Health Checks
// ==============================

// probe is one dependency check. Only critical probes decide overall health.
type probe struct {
	name     string
	critical bool
	check    func(ctx context.Context) error
}

func (f *Factory) probes() []probe {
	probes := []probe{
		{name: "redis", critical: true, check: func(ctx context.Context) error {
			if f.redisClient == nil {
				return errors.New("redis client not initialized")
			}
			return f.redisClient.HealthCheck(ctx)
		}},
		{name: "scylla", critical: true, check: func(ctx context.Context) error {
			if f.scyllaClient == nil {
				return errors.New("scylla client not initialized")
			}
			return f.scyllaClient.HealthCheck(ctx)
		}},
	}
	if f.esClient != nil {
		probes = append(probes, probe{name: "elasticsearch", check: f.esClient.HealthCheck})
	}
	if f.clickhouseClient != nil {
		probes = append(probes, probe{name: "clickhouse", check: f.clickhouseClient.HealthCheck})
	}
	if f.kafkaProducer != nil {
		probes = append(probes, probe{name: "kafka", check: f.kafkaProducer.HealthCheck})
	}
	return probes
}

// HealthCheck runs every probe concurrently. Values are "ok" or the failure.
func (f *Factory) HealthCheck(ctx context.Context) (map[string]string, bool) {
	return runProbes(ctx, f.probes(), 5*time.Second)
}

func runProbes(ctx context.Context, probes []probe, timeout time.Duration) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		checks  = make(map[string]string, len(probes))
		healthy = true
	)
	for _, p := range probes {
		g.Go(func() error {
			err := p.check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[p.name] = err.Error()
				if p.critical {
					healthy = false
				}
				return nil
			}
			checks[p.name] = "ok"
			return nil
		})
	}
	_ = g.Wait()
	return checks, healthy
}

// ==============================
// Shutdown
// ==============================

// Close drains the billing queue and audit sinks, then closes every client.
func (f *Factory) Close(ctx context.Context) {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")
		f.cancel()

		if f.billingQueue != nil {
			if err := f.billingQueue.Close(ctx); err != nil {
				util.Error("Failed to drain billing queue", util.ErrorField(err))
			} else {
				util.Info("Billing queue drained")
			}
		}

		if f.auditSinks != nil {
			if err := f.auditSinks.Close(ctx); err != nil {
				util.Error("Failed to drain audit sinks", util.ErrorField(err))
			} else {
				util.Info("Audit sinks drained")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Tenants() *scylla.TenantRepository {
	return f.tenantRepository
}

// Templates is the reply template set for the configured language.
func (f *Factory) Templates() *redisrepo.TemplateCache {
	return redisrepo.NewTemplateCache(f.redisClient, f.config.TemplateSetKey())
}

func (f *Factory) Transactions() *scylla.TransactionRepository {
	return f.transactionRepository
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
