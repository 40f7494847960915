package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpcops/tenantgate/internal/admin"
	"github.com/hpcops/tenantgate/internal/audit"
	"github.com/hpcops/tenantgate/internal/kube"
	"github.com/hpcops/tenantgate/internal/logging"
	"github.com/hpcops/tenantgate/internal/observability"
	"github.com/hpcops/tenantgate/internal/store"
	"github.com/hpcops/tenantgate/internal/tenancy"
	"github.com/hpcops/tenantgate/internal/util"
)

func main() {
	shutdownTrace := func(context.Context) error { return nil }
	if closer, err := observability.SetupOTel(context.Background(), observability.Config{
		ServiceName:    "tenantgate",
		ServiceVersion: os.Getenv("TENANTGATE_VERSION"),
		Environment:    os.Getenv("TENANTGATE_ENV"),
	}); err != nil {
		logging.L.Warn("otel_setup_failed", zap.Error(err))
	} else {
		shutdownTrace = closer
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTrace(ctx)
		}()
	}

	if parseBool(os.Getenv("TENANTGATE_REQUIRE_AUTH")) && os.Getenv("JWT_SIGNING_KEY") == "" {
		logging.L.Fatal("missing required env for auth", zap.String("env", "JWT_SIGNING_KEY"))
	}

	var kc *kube.Clientset
	err := util.Retry(60*time.Second, func() (bool, error) {
		c, e := kube.Connect()
		if e != nil {
			return true, e
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e := c.Ping(ctx); e != nil {
			return true, e
		}
		kc = c
		return false, nil
	})
	if err != nil {
		logging.L.Fatal("cluster connect", zap.Error(err))
	}

	cfg := tenancy.Config{
		ManageServiceAccounts: parseBool(os.Getenv("TENANTGATE_MANAGE_SERVICE_ACCOUNTS")),
		AttachImagePullSecret: parseBool(os.Getenv("TENANTGATE_IMAGE_PULL_SECRET")),
		DefaultRole:           os.Getenv("TENANTGATE_DEFAULT_ROLE"),
	}
	if strings.EqualFold(os.Getenv("TENANTGATE_BIND_SUBJECT"), "group") {
		cfg.BindSubject = kube.SubjectGroup
	}

	ring := audit.NewRing(1024)
	buffer := audit.NewRedisBuffer()
	buffer.Run()
	defer buffer.Stop()
	audit.SetGlobal(audit.Tee{ring, buffer})

	engine := tenancy.NewEngine(cfg, store.NewMemory(), kc)
	srv := admin.NewServer(engine, ring)

	addr := os.Getenv("TENANTGATE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	s := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.L.Info("TenantGate listening", zap.String("addr", s.Addr))
	if err := admin.StartHTTP(ctx, s); err != nil && err != http.ErrServerClosed && err != context.Canceled {
		logging.L.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	time.Sleep(100 * time.Millisecond)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
