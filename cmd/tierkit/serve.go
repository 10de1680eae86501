package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkit/modules/billing"
	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/httpserver"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/requestid"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tier"
	"github.com/dmitrymomot/tierkit/pkg/usage"
	"github.com/dmitrymomot/tierkit/pkg/webhook"
)

const notifierDrainTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	logger.SetAsDefault(log)

	catalog, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	if migrate {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	in, err := wireInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close(context.WithoutCancel(ctx), log)

	notifier, err := newNotifier(cfg, log, catalog)
	if err != nil {
		return err
	}

	opts, err := billingOptions(cfg, log, catalog, in, notifier)
	if err != nil {
		return err
	}

	var hcfg httpserver.Config
	if err := config.Load(&hcfg); err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(hcfg,
		httpserver.WithLogger(log),
		httpserver.WithStopHook(func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), notifierDrainTimeout)
			defer cancel()
			if err := notifier.Close(drainCtx); err != nil {
				log.WarnContext(drainCtx, "notification queue not fully drained", logger.Error(err))
			}
		}),
	)

	log.InfoContext(ctx, "starting tierkit",
		slog.String("addr", hcfg.Addr),
		slog.String("account_store", cfg.AccountStore),
		slog.String("usage_store", cfg.UsageStore),
		slog.String("billing_provider", cfg.BillingProvider),
		slog.Int("tiers", len(catalog.Tiers())),
	)
	return srv.Run(ctx, newRouter(log, opts, in.checks))
}

func newNotifier(cfg AppConfig, log *slog.Logger, catalog *tier.Catalog) (*subscription.Notifier, error) {
	opts := []subscription.NotifierOption{
		subscription.WithSink(subscription.LogSink(log, catalog)),
		subscription.WithQueueSize(cfg.NotifyQueueSize),
		subscription.WithWorkers(cfg.NotifyWorkers),
		subscription.WithNotifierLogger(log),
	}
	if cfg.NotifyWebhookURL != "" {
		sender, err := webhook.NewSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret,
			webhook.WithRetries(cfg.NotifyWebhookRetries),
			webhook.WithBackoff(250*time.Millisecond, 2*time.Second),
			webhook.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, subscription.WithSink(subscription.WebhookSink(sender, log)))
	}
	return subscription.NewNotifier(opts...), nil
}

func billingOptions(cfg AppConfig, log *slog.Logger, catalog *tier.Catalog, in *infra, sink subscription.NotificationSink) (billing.RouterOptions, error) {
	mode, err := subscription.ParseConflictMode(cfg.CheckoutConflictMode)
	if err != nil {
		return billing.RouterOptions{}, err
	}
	guardOpts := []subscription.GuardOption{
		subscription.WithGracePeriod(cfg.PastDueGrace),
		subscription.WithGuardLogger(log),
	}

	var (
		scfg      subscription.StripeConfig
		gateway   *subscription.StripeGateway
		processor *subscription.Processor
	)
	if cfg.BillingProvider == providerStripe {
		if err := config.Load(&scfg); err != nil {
			return billing.RouterOptions{}, err
		}
		gateway, err = subscription.NewStripeGateway(scfg)
		if err != nil {
			return billing.RouterOptions{}, err
		}
		processor = subscription.NewProcessor(in.accounts, catalog,
			subscription.WithNotificationSink(sink),
			subscription.WithProcessorLogger(log),
		)
		resyncer := subscription.NewResyncer(gateway, processor, subscription.WithResyncLogger(log))
		in.closers = append(in.closers, resyncer.Close)
		guardOpts = append(guardOpts, subscription.WithResync(resyncer))
	}

	guard := subscription.NewGuard(in.accounts, catalog, guardOpts...)
	opts := billing.RouterOptions{
		Catalog:      catalog,
		Guard:        guard,
		ConflictMode: mode,
		Usage: usage.NewLimiter(catalog, in.counters, guard.EffectiveTier,
			usage.WithKeyPrefix(in.usagePrefix),
			usage.WithLogger(log),
		),
		Logger: log,
	}

	if gateway == nil {
		log.Warn("billing provider disabled, checkout and webhooks are not mounted")
		return opts, nil
	}

	opts.Webhooks = gateway
	opts.Customers = in.accounts
	opts.Processor = processor
	opts.Checkout = subscription.NewOrchestrator(in.accounts, catalog, gateway,
		subscription.WithGatewayTimeout(cfg.BillingGatewayTimeout),
		subscription.WithOrchestratorLogger(log),
	)
	opts.CheckoutURLs = subscription.CheckoutURLs{SuccessURL: scfg.SuccessURL, CancelURL: scfg.CancelURL}
	opts.PortalReturnURL = scfg.PortalReturnURL
	return opts, nil
}

func newRouter(log *slog.Logger, opts billing.RouterOptions, checks []httpserver.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(log, checks...))
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/billing", billing.Router(opts))
	r.Mount("/content", billing.ContentRouter(opts))
	return r
}
