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

	"github.com/gin-gonic/gin"

	"github.com/jomidokhol/nur-ai/internal/api"
	"github.com/jomidokhol/nur-ai/internal/attachment"
	"github.com/jomidokhol/nur-ai/internal/config"
	"github.com/jomidokhol/nur-ai/internal/persistence"
	"github.com/jomidokhol/nur-ai/internal/service/ai"
	"github.com/jomidokhol/nur-ai/internal/service/chat"
	"github.com/jomidokhol/nur-ai/internal/store"
)

func main() {
	cfgPath := os.Getenv("NUR_AI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("store: %s\n", cfg.BasicConfig.Store)
	persist, err := persistence.Open(cfg)
	if err != nil {
		log.Fatalf("open persistence: %v", err)
	}
	defer persist.Close()

	generator, err := ai.NewGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("init generator: %v", err)
	}

	controller := chat.New(store.New(), persist, generator, chat.Options{
		SaveTimeout: time.Duration(cfg.BasicConfig.SaveTimeoutMs) * time.Millisecond,
	})
	controller.Load(ctx)
	defer controller.Close()

	uploads := attachment.NewStager(time.Duration(cfg.BasicConfig.UploadTTL) * time.Minute)
	uploads.StartCleaner(ctx, time.Duration(cfg.BasicConfig.UploadCleanInterval)*time.Minute)

	frame := time.Duration(cfg.BasicConfig.RevealFrameMs) * time.Millisecond
	handlers := api.NewHandler(controller, uploads, frame)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
