package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nutsdispatch/internal/api"
	"nutsdispatch/internal/buildinfo"
	"nutsdispatch/internal/config"
	"nutsdispatch/internal/dispatch"
	"nutsdispatch/internal/store"
	"nutsdispatch/internal/webhooks"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("NUTS_CONFIG"), "path to nutsdispatch.yml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Fixtures)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer st.Close()

	pub := webhooks.NewPublisher(st, cfg.Webhooks.URLs, cfg.Webhooks.Secret)
	svc := dispatch.NewService(st, st, cfg.SchedulerOptions(), pub)
	broker := api.NewEventBroker(cfg.Events.RedisURL)
	srvDeps := api.NewServer(cfg, st, svc, broker)
	svc.Notifiers = append(svc.Notifiers, srvDeps)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           logMiddleware(srvDeps.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start webhook worker
	var worker *webhooks.Worker
	if len(cfg.Webhooks.URLs) > 0 {
		worker = webhooks.NewWorker(st, cfg.Webhooks.MaxAttempts)
		worker.Start()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("API listening on %s (%s, store=%s, auth=%s)", cfg.Server.Addr, buildinfo.String(), cfg.Store.Driver, cfg.Auth.Mode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	if worker != nil {
		close(worker.Stop)
	}
	if rb, ok := broker.(*api.RedisBroker); ok {
		_ = rb.Close()
	}
	log.Printf("API stopped")
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
