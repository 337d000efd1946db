package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rexpro/internal/chat"
	"rexpro/internal/config"
	"rexpro/internal/crypto"
	"rexpro/internal/logging"
	"rexpro/internal/search"
	"rexpro/internal/settings"
	"rexpro/internal/tuning"

	"github.com/sirupsen/logrus"
)

const appName = "rexpro"

func main() {
	cfg := config.Load()

	logOpts := logging.DefaultOptions()
	logOpts.Level = cfg.LogLevel
	logOpts.File = cfg.LogFile
	logCloser, err := logging.Setup(logOpts)
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}
	defer logCloser.Close()

	sealer, err := crypto.NewSealer(crypto.MachineKey(appName))
	if err != nil {
		logrus.WithError(err).Fatal("failed to init key sealer")
	}
	store, err := settings.NewStore(cfg.DataDir, sealer, cfg.BaseSettings())
	if err != nil {
		logrus.WithError(err).Fatal("failed to load settings")
	}
	chats, err := chat.NewStore(cfg.DataDir)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init chat store")
	}
	tuned, err := tuning.NewRegistry(cfg.DataDir, cfg.TuningDelay)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init tuning registry")
	}
	defer tuned.Close()

	// Search is optional; chat keeps working without it.
	index, err := search.Open(filepath.Join(cfg.DataDir, "search.bleve"))
	if err != nil {
		logrus.WithError(err).Warn("search index unavailable")
		index = nil
	} else {
		defer index.Close()
	}

	srv := newServer(chats, tuned, index, store, nil, cfg.CarryOver)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsMiddleware(srv.routes("web")),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("shutdown did not complete cleanly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":       cfg.Port,
		"provider":   store.Get().Provider,
		"data_dir":   cfg.DataDir,
		"carry_over": cfg.CarryOver,
	}).Infof("rexpro server starting on http://localhost:%s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("server stopped")
	}
}
