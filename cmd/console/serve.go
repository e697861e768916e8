package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bookingdesk/internal/metrics"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlags("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.notifier == nil {
		a.log.Warn().Msg("telegram is not configured, serving health and metrics only")
	} else if err := a.store.RequireAdmin(); err != nil {
		return fmt.Errorf("the notifier polls unconfirmed bookings: %w", err)
	}

	checks := map[string]pinger{"session store": a.persister}
	if a.rdb != nil {
		checks["redis"] = redisPinger{a}
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Monitoring.HealthCheckPort > 0 {
		g.Go(func() error {
			return serveHTTP(ctx, a.cfg.Monitoring.HealthCheckPort, healthMux(checks), a.log)
		})
	}
	if a.cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return serveHTTP(ctx, a.cfg.Monitoring.PrometheusPort, mux, a.log)
		})
	}
	if a.notifier != nil {
		g.Go(func() error {
			a.notifier.Run(ctx)
			return nil
		})
	}

	a.log.Info().Msg("bookingdesk serving")
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

type redisPinger struct{ a *app }

func (r redisPinger) Ping(ctx context.Context) error {
	return r.a.rdb.Ping(ctx).Err()
}

func healthMux(checks map[string]pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctxPing, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		for name, c := range checks {
			if err := c.Ping(ctxPing); err != nil {
				http.Error(w, name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func serveHTTP(ctx context.Context, port int, handler http.Handler, logger *zerolog.Logger) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
