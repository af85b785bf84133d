// Command server runs the API as a plain HTTP server, with Prometheus
// metrics on /metrics. With --memory it needs no AWS resources.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"assistant-hub/handler"
	"assistant-hub/internal/app"
	"assistant-hub/internal/config"
	"assistant-hub/internal/metrics"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	envFile := flag.String("env-file", ".env", "optional KEY=value file loaded before reading the environment")
	memory := flag.Bool("memory", false, "keep all state in memory instead of DynamoDB")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fail("failed to load env file", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fail("invalid configuration", err)
	}
	log := config.NewLogger(os.Stdout, cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{Memory: *memory, Logger: log, Metrics: m})
	if err != nil {
		log.Error("failed to build application", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	h, err := handler.NewHandler(a.Catalog, a.Chat, a.Usage, handler.WithLogger(log), handler.WithMetrics(m))
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	r := h.Router()
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", *addr, "memory", *memory, "responder", cfg.Responder)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
