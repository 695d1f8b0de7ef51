package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/api"
	"github.com/charlesng35/authcore/internal/app"
	"github.com/charlesng35/authcore/internal/app/maintenance"
	iauth "github.com/charlesng35/authcore/internal/auth"
	"github.com/charlesng35/authcore/internal/auth/providers"
	"github.com/charlesng35/authcore/internal/database"
	"github.com/charlesng35/authcore/internal/handlers"
	"github.com/charlesng35/authcore/internal/middleware"
	"github.com/charlesng35/authcore/internal/monitoring"
	"github.com/charlesng35/authcore/internal/monitoring/checks"
	"github.com/charlesng35/authcore/internal/security"
	"github.com/charlesng35/authcore/internal/services"
	"github.com/charlesng35/authcore/pkg/logger"
	"github.com/charlesng35/authcore/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Flow      *services.AuthFlowService
	Cleaner   *maintenance.Cleaner
	RateStore *middleware.MemoryRateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	logAudit(ctx, stack.DB, cfg, log)

	hasher, err := iauth.NewHasher(cfg.Auth.HasherConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise password hasher: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	tokens, err := iauth.NewActionTokenService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise action tokens: %w", err)
	}

	store, err := services.NewCredentialStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise credential store: %w", err)
	}

	flowCfg := cfg.Auth.FlowConfig()
	if err := store.EnsureRoles(ctx, flowCfg.DefaultRoles); err != nil {
		return nil, fmt.Errorf("check default roles: %w", err)
	}

	delivery, err := buildDelivery(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Flow, err = services.NewAuthFlowService(store, hasher, jwtSvc, tokens, delivery, flowCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise auth flows: %w", err)
	}

	var oidcHandler *handlers.OIDCHandler
	if cfg.Auth.OIDC.Enabled {
		oidcHandler, err = buildOIDCHandler(ctx, cfg, stack.Flow)
		if err != nil {
			return nil, err
		}
		log.Info("oidc login enabled", zap.String("issuer", cfg.Auth.OIDC.Issuer))
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner, err = maintenance.NewCleaner(stack.DB,
			maintenance.WithTokenSchedule(cfg.Maintenance.TokenPurgeSchedule),
			maintenance.WithConsumedRetention(cfg.Maintenance.ConsumedRetention),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise maintenance: %w", err)
		}
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(stack.DB, 0))
	if stack.Cleaner != nil {
		health.RegisterReadiness(checks.TokenPurge(stack.Cleaner, 0, nil))
	}

	deps := api.Dependencies{
		DB:       stack.DB,
		Config:   cfg,
		Flow:     stack.Flow,
		Sessions: jwtSvc,
		OIDC:     oidcHandler,
		Health:   health,
	}
	if cfg.Server.RateLimit.Enabled {
		stack.RateStore = middleware.NewMemoryRateStore(cfg.Server.RateLimit.Window)
		deps.RateStore = stack.RateStore
	}

	stack.Router, err = api.NewRouter(deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func logAudit(ctx context.Context, db *gorm.DB, cfg *app.Config, log *zap.Logger) {
	result := security.NewAuditService(db, cfg).Run(ctx)
	for _, check := range result.Checks {
		switch check.Status {
		case security.StatusFail:
			log.Error("security audit", zap.String("check", check.ID), zap.String("message", check.Message), zap.String("remediation", check.Remediation))
		case security.StatusWarn:
			log.Warn("security audit", zap.String("check", check.ID), zap.String("message", check.Message), zap.String("remediation", check.Remediation))
		}
	}
}

func buildDelivery(cfg *app.Config, log *zap.Logger) (services.TokenDelivery, error) {
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; action tokens are logged as ready but not sent")
		return services.NewLogDelivery(nil), nil
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	delivery, err := services.NewMailDelivery(mailer, cfg.Email.DeliveryLinks(), cfg.Email.AppName)
	if err != nil {
		return nil, fmt.Errorf("initialise mail delivery: %w", err)
	}
	return delivery, nil
}

func buildOIDCHandler(ctx context.Context, cfg *app.Config, flow *services.AuthFlowService) (*handlers.OIDCHandler, error) {
	providerCfg, opts := cfg.Auth.OIDCProviderConfig()
	provider, err := providers.NewOIDCProvider(ctx, providerCfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise oidc provider: %w", err)
	}

	codec, err := iauth.NewStateCodec([]byte(cfg.Auth.OIDC.StateKey), cfg.Auth.OIDC.StateTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise oidc state codec: %w", err)
	}

	return handlers.NewOIDCHandler(provider, flow, codec, cfg.Auth.OIDC.SecureCookie), nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.RateStore != nil {
		s.RateStore.Stop()
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}
