package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/config"
	"tally/internal/auth"
	"tally/internal/db"
	"tally/internal/health"
	"tally/internal/lifecycle"
	"tally/internal/logs"
	"tally/internal/mail"
	"tally/internal/middleware"
	"tally/internal/models"
	"tally/internal/quotes"
	"tally/internal/repo"
	"tally/internal/sweep"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server
	sweeper    *sweep.Sweeper

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	if err := a.db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Customer{},
		&models.Quote{},
		&models.QuoteItem{},
		&models.AcceptanceToken{},
		&models.BookingToken{},
		&models.AuditLog{},
	); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Сервисы */
	mailer := mail.FromConfig(a.cfg.Mail.APIKey, a.cfg.Mail.From)
	orch := lifecycle.New(a.db, mailer, a.cfg.Quotes.BaseURL, a.cfg.Quotes.ValidFor)
	a.sweeper = sweep.New(orch, a.cfg.Quotes.SweepInterval)

	qs := repo.NewQuoteStore(a.db)
	us := repo.NewUserStore(a.db)
	qh := quotes.NewHandler(a.db, qs, orch)
	ah := auth.NewHandler(us, a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL, a.cfg.Auth.RefreshTTL)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health */
	health.RegisterRoutes(a.Router, a.db) // /healthz, /readyz

	/* 6) API */
	api := a.Router.PathPrefix("/api/v1").Subrouter()
	auth.RegisterRoutes(api, ah)
	quotes.RegisterStaffRoutes(api, qh, a.cfg.Auth.JWTSecret)

	// публичные capability-ссылки из писем — без /api-префикса и без JWT
	quotes.RegisterPublicRoutes(a.Router, qh)

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// фоновая уборка просроченных КП
	go a.sweeper.Run(a.ctx)

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
