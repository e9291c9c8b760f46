package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/VengurlekarMayuresh/CCL/internal/handlers"
	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/payments"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/config"
	pfirestore "github.com/VengurlekarMayuresh/CCL/internal/platform/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/idempotency"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/jobs"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/lock"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/mail"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/observability"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/secrets"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
	firestoreRepo "github.com/VengurlekarMayuresh/CCL/internal/repositories/firestore"
	"github.com/VengurlekarMayuresh/CCL/internal/services"
)

const (
	idempotencyCollection = "idempotency_keys"
	lockKeyPrefix         = "storefront:lock:"
	tokenVerifyTimeout    = 5 * time.Second
	shutdownTimeout       = 15 * time.Second
	healthCheckTimeout    = 3 * time.Second
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	serviceLogger := observability.ServiceLogger(logger.Named("orders"))

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, tokenVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	paymentManager, stripeWebhooks, err := buildPayments(cfg, serviceLogger)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	renderer, err := notifications.NewRenderer(cfg.Notifications.SupportEmail)
	if err != nil {
		logger.Fatal("failed to initialise notification templates", zap.Error(err))
	}
	mailSender := mail.NewSender(cfg.Mail)
	if !mailSender.Configured() {
		logger.Warn("mail transport not configured; status emails will be skipped")
	}
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Renderer:       renderer,
		Sender:         mailSender,
		AttemptTimeout: cfg.Notifications.AttemptTimeout,
		MaxAttempts:    cfg.Notifications.MaxAttempts,
		InitialBackoff: cfg.Notifications.InitialBackoff,
		Wait:           cfg.Notifications.Wait,
		Logger:         observability.ServiceLogger(logger.Named("notifications")),
		Metrics:        metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}

	healthChecks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: healthCheckTimeout,
			Check: func(ctx context.Context) error {
				iter := firestoreClient.Collection("orders").Limit(1).Documents(ctx)
				defer iter.Stop()
				if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		},
	}

	var locker lock.Locker
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		redisLocker, err := lock.NewRedisLocker(redisClient, lockKeyPrefix)
		if err != nil {
			logger.Fatal("failed to initialise redis locker", zap.Error(err))
		}
		locker = redisLocker
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: healthCheckTimeout,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	} else {
		logger.Warn("redis not configured; capture lock is process local")
		locker = lock.NewMemoryLocker(nil)
	}

	deps := services.OrderServiceDeps{
		Orders:            orderRepo,
		Products:          productRepo,
		Carts:             cartRepo,
		Users:             userRepo,
		Payments:          paymentManager,
		Notifier:          dispatcher,
		Directory:         firebaseVerifier,
		Locker:            locker,
		LockTTL:           cfg.Redis.LockTTL,
		Metrics:           metrics,
		StrictTransitions: cfg.Orders.StrictTransitions,
		VerifyCapture:     cfg.PSP.VerifyCapture,
		Currency:          cfg.Orders.Currency,
		ReturnURL:         cfg.Orders.ReturnURL(),
		CancelURL:         cfg.Orders.CancelURL(),
		Logger:            serviceLogger,
	}

	if topicID := strings.TrimSpace(cfg.PubSub.Topic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		deps.Events = publisher
	}

	orderService, err := services.NewOrderService(deps)
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider, idempotencyCollection)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(healthChecks, nil)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	staffRoles := cfg.Auth.StaffRoles
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService,
		handlers.WithOrderStaffRoles(staffRoles...),
		handlers.WithOrderCreateRateLimit(cfg.RateLimits.OrderCreatePerMinute, nil),
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orderService, dispatcher, staffRoles...)

	var webhookParser handlers.CheckoutEventParser
	if stripeWebhooks != nil {
		webhookParser = stripeWebhooks
	}
	webhookHandlers := handlers.NewPaymentWebhookHandlers(webhookParser, orderService, observability.ServiceLogger(logger.Named("webhooks")))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(metrics),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthRepository(healthRepo),
			handlers.WithHealthVersion(strings.TrimSpace(envValues["API_BUILD_VERSION"])),
		)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	cleanupCancel()
	cleanupWG.Wait()
	logger.Info("server stopped")
}

// buildPayments registers the mock provider plus any provider with
// credentials. The configured default falls back to mock when it is absent.
func buildPayments(cfg config.Config, logger payments.Logger) (*payments.Manager, *payments.StripeWebhookVerifier, error) {
	providers := map[string]payments.Provider{
		"mock": payments.NewMockProvider(nil),
	}
	if cfg.PSP.PayPalClientID != "" && cfg.PSP.PayPalSecret != "" {
		paypal, err := payments.NewPayPalProvider(payments.PayPalProviderConfig{
			ClientID:     cfg.PSP.PayPalClientID,
			ClientSecret: cfg.PSP.PayPalSecret,
			Mode:         cfg.PSP.PayPalMode,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		providers["paypal"] = paypal
	}

	var webhooks *payments.StripeWebhookVerifier
	if cfg.PSP.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		providers["stripe"] = stripeProvider
		if cfg.PSP.StripeWebhookSecret != "" {
			webhooks, err = payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	defaultProvider := cfg.PSP.DefaultProvider
	if _, ok := providers[defaultProvider]; !ok {
		logger(context.Background(), "payments.default_provider.missing.warn", map[string]any{"provider": defaultProvider})
		defaultProvider = "mock"
	}
	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(defaultProvider))
	if err != nil {
		return nil, nil, err
	}
	return manager, webhooks, nil
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve for the providers the
// environment enables.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_PSP_PAYPAL_CLIENT_ID"]) != "" {
		required = append(required, "PSP.PayPalSecret")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_WEBHOOK_SECRET"]) != "" {
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.TrimSpace(env["API_MAIL_GMAIL_CLIENT_ID"]) != "" {
		required = append(required, "Mail.GmailClientSecret", "Mail.GmailRefreshToken")
	}
	return required
}
