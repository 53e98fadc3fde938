package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/adapter/bazaar"
	"github.com/yourorg/paygate/internal/adapter/mellat"
	"github.com/yourorg/paygate/internal/adapter/saman"
	"github.com/yourorg/paygate/internal/adapter/soap"
	"github.com/yourorg/paygate/internal/circuitbreaker"
	"github.com/yourorg/paygate/internal/config"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/logging"
	"github.com/yourorg/paygate/internal/order"
	"github.com/yourorg/paygate/internal/orchestrator"
	"github.com/yourorg/paygate/internal/token"
)

func initTracer(log *zap.SugaredLogger) *sdktrace.TracerProvider {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Errorw("tracer exporter init failed", "err", err)
		return sdktrace.NewTracerProvider()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.GinMode)

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalw("opening database failed", "err", err)
	}
	if err := db.AutoMigrate(&order.Order{}, &gateway.Instance{}); err != nil {
		log.Fatalw("migrating schema failed", "err", err)
	}

	tp := initTracer(log)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// One client bounds every provider round-trip; a timeout is treated
	// like any other provider failure downstream.
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	soapClient := soap.NewClient(httpClient, log)
	callbackURL := cfg.PublicBaseURL + "/pay"

	orders := order.NewGormRepository(db)
	gateways := gateway.NewGormRepository(db)
	tokens := token.NewCache(gateways, httpClient, log)

	registry := adapter.NewRegistry(
		saman.New(soapClient, callbackURL, log),
		mellat.New(soapClient, callbackURL, log),
		bazaar.New(tokens, httpClient, log),
	)
	breaker := circuitbreaker.New(circuitbreaker.Config{})
	orch := orchestrator.New(orders, gateways, registry, breaker, log)

	srv := NewServer(orch, orders, gateways, cfg.PublicBaseURL, log)
	log.Infow("starting server", "addr", cfg.ListenAddr)
	if err := srv.Router().Run(cfg.ListenAddr); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
}
