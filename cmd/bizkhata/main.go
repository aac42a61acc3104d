package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bizkhata/bizkhata/pkg/areas"
	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/config"
	"github.com/bizkhata/bizkhata/pkg/contextkeys"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/permissions"
	"github.com/bizkhata/bizkhata/pkg/rbac"
	"github.com/bizkhata/bizkhata/pkg/session"
	"github.com/bizkhata/bizkhata/pkg/tenant"
	"github.com/bizkhata/bizkhata/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := observability.WithLogger(context.Background(), logger)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("could not open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("could not reach database")
		os.Exit(1)
	}

	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("could not reach redis")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	catalog := permissions.NewCatalog()
	index := rbac.NewIndex(db, catalog)
	roleStore := rbac.NewStore(db, catalog, index)
	checker, err := rbac.NewChecker(roleStore, index, cfg.Observability.PermissionCacheSize, cfg.Observability.PermissionCacheTTL, metrics)
	if err != nil {
		logger.WithError(err).Error("could not build authorization checker")
		os.Exit(1)
	}

	userStore := users.NewStore(db)
	areaStore := areas.NewStore(db)
	tenantService := tenant.NewService(db, roleStore, userStore, catalog)

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("could not build audit logger")
		os.Exit(1)
	}
	defer auditLogger.Close()

	sessionStore := session.NewStore(redisClient, cfg.Session.TTL)
	sessionHandlers := session.NewHandlers(sessionStore, userStore, cfg.Session.CookieName, false)

	mw := rbac.NewMiddleware(checker)
	roleHandlers := rbac.NewHandlers(roleStore, checker, catalog)
	areaHandlers := areas.NewHandlers(areaStore, checker)

	if metrics != nil {
		go sampleGauges(ctx, metrics, db, sessionStore)
	}

	router := mux.NewRouter()
	router.Use(requestContextMiddleware(logger, auditLogger))
	if metrics != nil {
		router.Use(metrics.HTTPMiddleware)
	}
	router.Use(session.Middleware(sessionStore, cfg.Session.CookieName))

	router.HandleFunc("/signup", signupHandler(tenantService)).Methods(http.MethodPost)
	router.HandleFunc("/login", sessionHandlers.Login).Methods(http.MethodPost)
	router.HandleFunc("/logout", sessionHandlers.Logout).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	roleHandlers.RegisterRoutes(api, mw)
	areaHandlers.RegisterRoutes(api, mw)
	registerUserRoutes(api, mw, checker, userStore)
	registerTenantRoutes(api, mw, tenantService)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg.Server.Host+":"+cfg.Server.HealthPort, db, metrics)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
	healthServer.Shutdown(shutdownCtx) //nolint:errcheck
}

// sampleGauges periodically refreshes the pool and session gauges.
func sampleGauges(ctx context.Context, metrics *observability.Metrics, db *sql.DB, sessions *session.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.DBConnectionsOpen.Set(float64(db.Stats().OpenConnections))
			if count, err := sessions.ActiveCount(ctx); err == nil {
				metrics.SessionsActive.Set(float64(count))
			}
		}
	}
}

// requestContextMiddleware seeds each request's context with a request id, the
// application logger and the audit sink.
func requestContextMiddleware(logger *observability.Logger, auditLogger audit.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", requestID))
			ctx = audit.WithLogger(ctx, auditLogger)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newHealthServer(addr string, db *sql.DB, metrics *observability.Metrics) *http.Server {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	return &http.Server{Addr: addr, Handler: healthMux, ReadTimeout: 10 * time.Second}
}
