package main

import (
	"net/http"

	"github.com/hoongun/getpaid/internal/backend"
	"github.com/hoongun/getpaid/internal/backend/payanyway"
	"github.com/hoongun/getpaid/internal/backend/platron"
	"github.com/hoongun/getpaid/internal/backend/transferuj"
	"github.com/hoongun/getpaid/internal/config"
	"github.com/hoongun/getpaid/internal/db"
	"github.com/hoongun/getpaid/internal/logger"
	"github.com/hoongun/getpaid/internal/middleware"
	"github.com/hoongun/getpaid/internal/payment"
	"github.com/hoongun/getpaid/internal/transport"
	"github.com/hoongun/getpaid/internal/userdata"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := db.InitDB(cfg)
	defer database.Close()

	store := payment.NewStore(database)
	reconciler := payment.NewReconciler(store)

	var adapters []backend.Adapter
	for name, bc := range cfg.Backends {
		switch name {
		case platron.Name:
			adapters = append(adapters, platron.New(bc))
		case payanyway.Name:
			adapters = append(adapters, payanyway.New(bc))
		case transferuj.Name:
			adapters = append(adapters, transferuj.New(bc))
		}
	}
	registry := backend.NewRegistry(adapters...)

	handler := transport.NewHandler(registry, store, reconciler, userdata.None{}, cfg.SuccessURL, cfg.FailureURL)

	var h http.Handler = handler.Routes()
	h = middleware.RateLimitMiddleware(h)
	h = middleware.LoggingMiddleware(h)
	h = middleware.RequestIDMiddleware(h)

	logger.L().Info("payment gateway mediator listening",
		zap.String("port", cfg.AppPort),
		zap.Strings("backends", registry.Names()),
	)
	if err := http.ListenAndServe(":"+cfg.AppPort, h); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}
