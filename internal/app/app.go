package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
	"github.com/cartstream/storefront/internal/handler"
	"github.com/cartstream/storefront/internal/mailer"
	"github.com/cartstream/storefront/internal/storage/postgres"
	"github.com/cartstream/storefront/pkg/health"
	"github.com/cartstream/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the email
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("mail", cfg.Mail.Transport))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	probes := health.New(lg)
	probes.Add(health.Probe{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Check: health.PingCheck(pool)})
	probes.Add(health.Probe{Name: "goroutines", Kind: health.Liveness, Check: health.GoroutineCountCheck(10000)})
	probes.Start(ctx, 10*time.Second)
	defer probes.Stop()

	// Email delivery.
	mail, err := mailer.New(cfg.Mail, lg)
	if err != nil {
		return errors.Wrap(err, "create mailer")
	}
	defer func() {
		if err := mail.Close(); err != nil {
			lg.Warn("Close mailer", zap.Error(err))
		}
	}()
	dispatcher := notify.NewDispatcher(mail, postgres.NewOutboxRepository(pool), lg, cfg.Notify)

	// Domain services.
	tel, err := order.NewTelemetry(m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "order telemetry")
	}
	orders := order.NewService(postgres.NewTransactor(pool), postgres.NewOrderRepository(pool), dispatcher, tel)
	coupons := coupon.NewService(postgres.NewCouponRepository(pool))
	notifications := notify.NewService(postgres.NewNotificationRepository(pool))

	// HTTP.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.CORS.Origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, httpmiddleware.HeaderRequestID},
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           86400,
	}))
	probes.Register(e)
	handler.NewHandler(orders, coupons, notifications).
		Register(e, handler.NewSecurityHandler(postgres.NewUserRepository(pool), []byte(cfg.AccessSecretKey)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(e,
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(lg),
				httpmiddleware.Recovery(),
				httpmiddleware.LogRequests(),
				httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
				}),
			),
			"storefront-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// The dispatcher outlives the server so emails from requests drained
	// during shutdown are still delivered or parked.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: fail readiness, wait for load balancers, drain.
	g.Go(func() error {
		defer stopDispatch()
		<-gctx.Done()
		probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	probes.SetReady(true)
	return g.Wait()
}
