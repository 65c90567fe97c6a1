package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jelgon94/hr-voice-agent/internal/audio"
	"github.com/Jelgon94/hr-voice-agent/internal/config"
	"github.com/Jelgon94/hr-voice-agent/internal/convo"
	"github.com/Jelgon94/hr-voice-agent/internal/gateway"
	"github.com/Jelgon94/hr-voice-agent/internal/media"
	"github.com/Jelgon94/hr-voice-agent/internal/rtc"
	"github.com/Jelgon94/hr-voice-agent/internal/turn"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	bridge := rtc.NewBridge(cfg.ICEServersJSON)
	registry := media.NewRegistry(bridge)
	guard := media.NewGuard(bridge)

	client := convo.NewHTTPClient(cfg.BackendBaseURL, cfg.HTTPTimeout)
	playback := audio.NewPlaybackService(bridge)
	capture := audio.NewCaptureService()

	lang, ok := convo.ParseLanguage(cfg.DefaultLanguage)
	if !ok {
		log.Printf("unknown default language %q, using EN", cfg.DefaultLanguage)
		lang = convo.LanguageEN
	}

	ctrl := turn.NewController(client, registry, guard, playback, capture, lang)
	srv := gateway.New(ctrl, http.HandlerFunc(bridge.ServeSignaling))

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("agent listening on %s (backend %s)", cfg.HTTPAddress, cfg.BackendBaseURL)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
