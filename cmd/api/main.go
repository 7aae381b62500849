package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solarflow/agreement"
	"solarflow/auth"
	"solarflow/billing"
	"solarflow/config"
	"solarflow/contact"
	"solarflow/db"
	"solarflow/document"
	"solarflow/httpapi"
	"solarflow/notify"
	"solarflow/pipeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	defer pool.Close()

	rdb, err := db.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis client: %w", err)
	}
	defer rdb.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	contacts := contact.NewService(pool)
	stages := pipeline.NewService(pool)

	blobs := document.NewHTTPStore(cfg.BlobBaseURL, cfg.GatewayTimeout)
	docs := document.NewPipeline(blobs, document.NewRepository(pool), document.Company{
		Name:                cfg.CompanyName,
		Address:             cfg.CompanyAddress,
		Email:               cfg.CompanyEmail,
		Phone:               cfg.CompanyPhone,
		PaymentInstructions: cfg.PaymentInstructions,
	})

	invoices := billing.NewService(pool).WithTaxRate(cfg.TaxRate)

	sms := notify.NewHTTPSMSGateway(cfg.SMSEndpoint, cfg.SMSAPIKey, cfg.GatewayTimeout)
	email := notify.NewHTTPEmailGateway(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.GatewayTimeout)
	scheduler := notify.NewRedisScheduler(rdb)
	dispatcher := notify.NewDispatcher(sms, email, cfg.PublicBaseURL).
		WithInApp(notify.NewInAppRepository(pool), authService).
		WithScheduler(scheduler).
		WithOpportunities(stages, contacts).
		WithBilling(invoices, docs)

	agreements := agreement.NewService(pool, nil, nil).
		WithStageAdvancer(stages).
		WithDocuments(docs).
		WithInvoices(invoices).
		WithNotifier(dispatcher)

	reminders := notify.NewReminderWorker(scheduler, agreements, sms).
		WithInterval(cfg.ReminderInterval)
	go reminders.Run(ctx)

	handler := httpapi.NewHandler(agreements, stages, contacts).
		WithCloseOut(invoices, dispatcher).
		WithAuth(authService)
	router := httpapi.NewRouter(handler, authService)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
