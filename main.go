// main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alsseok01/babsang/internal/auth"
	"github.com/alsseok01/babsang/internal/chat"
	"github.com/alsseok01/babsang/internal/config"
	"github.com/alsseok01/babsang/internal/httpx"
	"github.com/alsseok01/babsang/internal/jobs"
	"github.com/alsseok01/babsang/internal/logging"
	"github.com/alsseok01/babsang/internal/media"
	"github.com/alsseok01/babsang/internal/metrics"
	"github.com/alsseok01/babsang/internal/notify"
	"github.com/alsseok01/babsang/internal/push"
	"github.com/alsseok01/babsang/internal/realtime"
	"github.com/alsseok01/babsang/internal/reviewcode"
	"github.com/alsseok01/babsang/internal/store"
	"github.com/alsseok01/babsang/internal/store/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 資料目錄
	paths := cfg.Paths()
	for _, d := range []string{paths.UploadsDir, paths.SnapshotDir} {
		if err := config.EnsureDir(d); err != nil {
			log.WithError(err).WithField("dir", d).Fatal("create data dir")
		}
	}

	// ---- Store + persistence
	st := store.NewStore()
	var persister store.Persister
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		defer pg.Close()
		persister = pg
		log.Info("snapshots go to postgres")
	} else {
		persister = store.NewFilePersister(paths.SnapshotDir)
		log.WithField("dir", paths.SnapshotDir).Info("snapshots go to json files")
	}
	snap, err := persister.Load(ctx)
	if err != nil {
		log.WithError(err).Fatal("load snapshot")
	}
	st.Import(snap)

	// ---- Firebase (Google sign-in + push)
	fb, err := config.NewFirebase(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("firebase")
	}
	var (
		social auth.SocialVerifier
		sender push.Sender = push.Nop{}
	)
	if fb != nil {
		social = auth.FirebaseVerifier{Client: fb.Auth}
		sender = push.NewFCM(fb.Messaging)
	} else {
		log.Warn("firebase disabled: no social login, no push")
	}

	// ---- Review codes
	var codeBackend reviewcode.Backend = reviewcode.NewMemory()
	if cfg.RedisAddr != "" {
		rc, err := reviewcode.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer rc.Close()
		codeBackend = rc
	}

	// ---- Uploads
	var uploader media.Uploader = media.NewLocal(paths.UploadsDir)
	if cfg.S3Bucket != "" {
		s3, err := media.NewS3(ctx, cfg.S3Bucket, cfg.AWSRegion, cfg.PublicBaseURL)
		if err != nil {
			log.WithError(err).Fatal("s3")
		}
		uploader = s3
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}

	m := metrics.New()
	app := &httpx.AppCtx{
		Store:   st,
		Tokens:  auth.NewTokens(secret, cfg.TokenTTL),
		Social:  social,
		Codes:   reviewcode.New(codeBackend, reviewcode.DefaultTTL),
		Media:   uploader,
		Metrics: m,
		Log:     log,
		Paths:   paths,
	}

	// chat <-> broker <-> notifier
	chatSvc := chat.NewService(st, nil, log)
	broker := realtime.NewBroker(httpx.TokenUser(app), chatSvc, log,
		realtime.WithMetrics(m),
		realtime.WithOriginCheck(originCheck(cfg.AllowedOrigins())),
	)
	chatSvc.Attach(broker)
	dispatcher := notify.New(st, broker, sender, log, m)
	chatSvc.SetNotifier(dispatcher)
	app.Notifier, app.Chat, app.Realtime = dispatcher, chatSvc, broker

	proxies, _ := cfg.TrustedProxyPrefixes() // validated by config.Load
	runner := jobs.New(st, persister, dispatcher, log, m)
	if err := runner.Start(); err != nil {
		log.WithError(err).Fatal("start jobs")
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpx.NewRouter(app, httpx.RouterOptions{
			AllowedOrigins: cfg.AllowedOrigins(),
			LoginLimiter:   httpx.NewRateLimiter(cfg.LoginRate, cfg.LoginBurst, proxies...),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Start server
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "data_dir": paths.DataDir}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	broker.Close()
	runner.Stop()
	dispatcher.Wait()
	if _, err := st.Flush(sctx, persister); err != nil {
		log.WithError(err).Error("final snapshot")
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// originCheck mirrors the CORS list for WebSocket upgrades.
func originCheck(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
