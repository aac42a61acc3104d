// Command bizkhata-sync reconciles the normalized role-permission index from
// the role records. Run once for backfill/repair, or on a cron schedule to
// continuously heal drift.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/permissions"
	"github.com/bizkhata/bizkhata/pkg/rbac"
)

var (
	dbURL       = flag.String("db-url", os.Getenv("BIZKHATA_POSTGRES_URL"), "PostgreSQL connection URL")
	schedule    = flag.String("schedule", "", "Cron schedule (e.g. '*/15 * * * *'). Empty runs the sync once and exits")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	timeout     = flag.Duration("timeout", 10*time.Minute, "Per-run timeout")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address when scheduled (e.g. ':9091')")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	if *dbURL == "" {
		logger.Fatal("database URL is required (--db-url or BIZKHATA_POSTGRES_URL)")
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("failed to ping database")
	}

	index := rbac.NewIndex(db, permissions.NewCatalog())
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Fatal("failed to create audit logger")
	}

	runSync := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		start := time.Now()
		stats, err := index.SyncAll(ctx)
		metrics.SyncRunDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SyncRunsTotal.WithLabelValues("failure").Inc()
			logger.WithError(err).WithField("roles_processed", stats.RolesProcessed).
				Error("sync failed")
			return
		}
		metrics.SyncRunsTotal.WithLabelValues("success").Inc()
		metrics.SyncRolesTotal.Add(float64(stats.RolesProcessed))
		logger.WithFields(logrus.Fields{
			"roles_processed": stats.RolesProcessed,
			"rows_inserted":   stats.RowsInserted,
			"duration":        time.Since(start).String(),
		}).Info("sync completed")

		if aerr := auditLog.LogMutation(ctx, audit.EventTypePermissionSync, nil, nil,
			audit.ResourceTypePermission, "all",
			fmt.Sprintf("reconciled %d roles", stats.RolesProcessed)); aerr != nil {
			logger.WithError(aerr).Warn("could not record sync audit event")
		}
	}

	if *schedule == "" {
		runSync()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, runSync); err != nil {
		logger.WithError(err).Fatal("invalid cron schedule")
	}
	c.Start()
	logger.WithField("schedule", *schedule).Info("sync scheduler started")

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logger.WithField("addr", *metricsAddr).Info("metrics server listening")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("stopping scheduler")
	<-c.Stop().Done()
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
