package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/mind-engage/mindengage-examprep/internal/api/http"
	auth "github.com/mind-engage/mindengage-examprep/internal/auth/middleware"
	"github.com/mind-engage/mindengage-examprep/internal/config"
	"github.com/mind-engage/mindengage-examprep/internal/db"
	"github.com/mind-engage/mindengage-examprep/internal/engine"
	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/grading"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
	"github.com/mind-engage/mindengage-examprep/internal/notify"
	"github.com/mind-engage/mindengage-examprep/internal/session"
	"github.com/mind-engage/mindengage-examprep/internal/store"
)

func main() {
	cfg := config.Load()

	lg, err := logger.NewWithOptions(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		lg.Fatal("db open failed", "driver", cfg.DBDriver, "error", err)
	}
	defer dbh.Close()

	content := exam.NewSQLStore(dbh)
	results := store.NewSQLStore(dbh, store.RetryPolicy{MaxAttempts: cfg.TxMaxAttempts, Backoff: 20 * time.Millisecond}, store.NewLogHooks(lg))

	// --- result.created publisher (optional) ---
	var pub notify.Publisher = notify.Noop{}
	if cfg.RedisURL != "" {
		rdb, err := notify.Connect(ctx, cfg.RedisURL)
		if err != nil {
			lg.Warn("redis unavailable, results will not be published", "error", err)
		} else {
			defer rdb.Close()
			pub = notify.NewRedisPublisher(rdb, cfg.RedisChannel)
		}
	}

	grader := grading.NewGrader(results,
		grading.WithLocation(cfg.Location()),
		grading.WithPublisher(pub),
		grading.WithLogger(lg),
	)

	mgr := engine.New(content, grader, engine.Config{
		Monitor: session.MonitorConfig{
			TickInterval:     cfg.TickInterval,
			InactivityWindow: cfg.InactivityWindow,
			GraceWindow:      cfg.GraceWindow,
		},
		Inactivity: map[exam.TestKind]bool{
			exam.KindStatic:  cfg.InactivityFixed,
			exam.KindDynamic: cfg.InactivityDynamic,
			exam.KindLive:    cfg.InactivityLive,
		},
		InstanceRetryDelay: cfg.InstanceRetryDelay,
		SweepAfter:         cfg.SessionSweepAfter,
		FinishedGrace:      cfg.SessionFinishedGrace,
		SweepEvery:         time.Minute,
	}, engine.WithLogger(lg))
	if err := mgr.Run(); err != nil {
		lg.Fatal("sweeper", "error", err)
	}
	defer mgr.Shutdown()

	// --- Router ---
	r := api.NewRouter(api.Deps{
		Manager:            mgr,
		Auth:               auth.NewAuthService(cfg.AuthHMACSecret),
		Log:                lg,
		DB:                 dbh,
		AllowClaimFallback: cfg.Mode == config.ModeOffline,
		CORSOrigins:        cfg.CORSOrigins,
		RequestLogging:     true,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	lg.Info("listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode), "db", cfg.DBDriver, "tz", cfg.Timezone)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("server stopped", "error", err)
	}
}
