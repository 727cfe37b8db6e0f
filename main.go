package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"
	"ponpay/pkg/ratelimit"
	"ponpay/process/jobs"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var (
	cfg          Config
	jwtSecret    []byte // from JWT_SECRET (dev default when unset)
	ledgerSvc    *ledger.Service
	history      *audit.Recorder
	loginLimiter *ratelimit.Limiter
)

func main() {
	// Auto-load ./.env if present before reading vars
	loadDotEnv()
	var err error
	cfg, err = loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg)
	jwtSecret = []byte(cfg.JWTSecret)

	// `./ponpay migrate` runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.DBAutoMigrate = true
		initDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()
	initServices()
	defer loginLimiter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := jobs.New(db, ledgerSvc, cfg.Location())
	if err != nil {
		log.Fatal("scheduler: ", err)
	}
	if err := sched.Start(ctx, cfg.ReconcileSchedule); err != nil {
		log.Fatal("scheduler: ", err)
	}
	defer sched.Stop()

	gin.SetMode(cfg.GinMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server: ", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

// initServices builds the services shared by the handlers. db must be open.
func initServices() {
	ledgerSvc = ledger.NewService(db)
	history = audit.NewRecorder(db)
	loginLimiter = ratelimit.New(cfg.LoginMaxAttempts, cfg.LoginWindow, time.Minute)
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	setupRoutes(r)
	return r
}
