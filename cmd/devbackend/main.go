package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"erp-session-core/internal/auth"
	"erp-session-core/internal/config"
	"erp-session-core/internal/logging"
	"erp-session-core/internal/middleware"
	"erp-session-core/internal/server"
	"erp-session-core/internal/store"
)

func main() {
	cfg, err := config.LoadBackendConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.GinMode == gin.DebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(cfg.GinMode)
	st := store.New()
	if cfg.SeedDemoUsers {
		if err := store.SeedDemo(st, time.Now().UnixMilli()); err != nil {
			log.Fatal("seed demo users", zap.Error(err))
		}
		log.Info("demo users seeded", zap.Int("count", len(st.ListAccounts())))
	}

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "erp-devbackend",
	}
	limiter := middleware.NewRateLimiter(cfg.LoginLimit, cfg.LoginWindow)
	defer limiter.Stop()

	router := server.NewRouter(server.Deps{
		Store:        st,
		TokenConfig:  tokenCfg,
		LoginLimiter: limiter,
		Logger:       log.Named("http"),
	})
	log.Info("listening", zap.String("addr", fmt.Sprintf(":%d", cfg.Port)))
	if err := server.Run(cfg, router); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
