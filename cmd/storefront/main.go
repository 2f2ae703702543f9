package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"funland/internal/adminapi"
	"funland/internal/storefront"
	"funland/pkg/bank"
	"funland/pkg/bootstrap"
	"funland/pkg/config"
	"funland/pkg/db"
	"funland/pkg/fga"
	"funland/pkg/logger"
	"funland/pkg/mgmt"
	"funland/pkg/middleware"
	"funland/pkg/servicetoken"
	"funland/pkg/session"
	"funland/pkg/strategy"
	"funland/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	// 1. tenant configuration source: bootstrap API when credentials are set,
	//    otherwise the static seed
	var (
		prov   tenants.Provider
		tokens tenants.TokenSource
	)
	if cfg.HasDemoAPI() {
		prov = bootstrap.New(cfg.DemoAPIEndpoint, cfg.DemoAPIAppID, cfg.BootstrapTimeout, log)
		tokens = servicetoken.New(servicetoken.Config{
			Endpoint:     cfg.DemoAPITokenEndpoint,
			ClientID:     cfg.DemoAPIClientID,
			ClientSecret: cfg.DemoAPIClientSecret,
			Audience:     cfg.DemoAPIAudience,
			Timeout:      cfg.BootstrapTimeout,
		}, log)
	} else {
		prov = tenants.NewMemoryProvider(cfg.TenantSeedJSON, log)
	}

	// 2. strategies + resolver
	reg := strategy.NewMemoryRegistry(log)
	res := tenants.NewResolver(cfg, prov, tokens, reg, log)

	// 3. sessions
	var store session.Store
	if rdb := db.MustRedis(cfg.RedisURL, log); rdb != nil {
		defer rdb.Close()
		store = session.NewRedisStore(rdb)
	} else {
		store = session.NewMemoryStore(cfg.SessionTTL)
	}
	sessions := session.NewManager(store, cfg.SessionCookie, cfg.SessionTTL, cfg.SessionSecure, log)

	// 4. optional fine-grained authorization
	var authz storefront.Authorizer
	if cfg.HasFGA() {
		authz = fga.New(fga.Config{
			APIURL:       cfg.FGAAPIURL,
			StoreID:      cfg.FGAStoreID,
			ClientID:     cfg.FGAClientID,
			ClientSecret: cfg.FGAClientSecret,
			TokenIssuer:  cfg.FGATokenIssuer,
			Audience:     cfg.FGAAudience,
		}, log)
		log.Infow("fga enabled", "store", cfg.FGAStoreID)
	}

	// 5. optional management API (profile editing, MFA) and bank demo
	var opts []storefront.Option
	if cfg.HasMgmt() {
		opts = append(opts, storefront.WithDirectory(mgmt.New(mgmt.Config{
			BaseURL:      cfg.MgmtBaseURL,
			ClientID:     cfg.MgmtClientID,
			ClientSecret: cfg.MgmtClientSecret,
			Audience:     cfg.MgmtAudience,
		}, log)))
		log.Infow("management api enabled", "base", cfg.MgmtBaseURL)
	}
	if cfg.HasBank() {
		opts = append(opts, storefront.WithBank(bank.New(bank.Config{
			Issuer:       cfg.BankIssuer,
			ClientID:     cfg.BankClientID,
			ClientSecret: cfg.BankClientSecret,
			Audience:     cfg.BankAudience,
			Scopes:       strings.Fields(cfg.BankScopes),
			RedirectURL:  cfg.BankRedirectURI,
		}, log)))
		log.Infow("bank demo enabled", "issuer", cfg.BankIssuer)
	}

	catalog, err := storefront.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		log.Fatalw("catalog", "err", err)
	}
	shop, err := storefront.New(reg, sessions, catalog, authz, log, opts...)
	if err != nil {
		log.Fatalw("storefront", "err", err)
	}
	admin, err := adminapi.New(context.Background(), log, res, adminapi.Config{
		Issuer:      cfg.AdminIssuer,
		Audience:    cfg.AdminAudience,
		JWKSURL:     cfg.AdminJWKSURL,
		APIKey:      cfg.AdminAPIKey,
		PolicyFile:  cfg.AdminPolicyFile,
		CORSOrigins: cfg.AdminCORSOrigins,
	})
	if err != nil {
		log.Fatalw("admin api", "err", err)
	}

	// 5. router
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(cfg.DebugDoubleWrite, log))
	r.Use(middleware.Tracing("funland-storefront", log))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Mount("/admin", admin.Routes())
	r.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)
		r.Use(middleware.WithTenant(res))
		shop.Routes(r)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("storefront listening", "addr", cfg.HTTPAddr, "base_uri", cfg.BaseURI)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = middleware.ShutdownTracing(ctx)
	log.Infow("storefront stopped")
}
