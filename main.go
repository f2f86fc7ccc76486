package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/whatsmeow"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(".env")
	if err != nil {
		return err
	}
	log := waLog.Stdout("Bot", cfg.LogLevel, true)
	log.Infof("🚀 %s | STARTING (settings: %s)", cfg.BotName, cfg.SettingsBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := openSettingsStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}
	defer settings.Close(context.Background())

	container, device, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", cfg.WALogLevel, true))
	provider := newWAProvider(client)

	limiter := NewRateLimiter(cfg.SendInterval, cfg.SendRetryAfter, log.Sub("RateLimit"))
	go limiter.Run(ctx)

	bot := NewBot(cfg, provider, settings, limiter, log)
	hub := NewStatusHub(log.Sub("WS"))

	fatal := make(chan error, 1)
	session := NewWASession(cfg, client, bot, hub, SessionCallbacks{
		OnDisconnected: func(err error) {
			select {
			case fatal <- err:
			default:
			}
		},
		OnError: func(err error) {
			if errors.Is(err, ErrPairingExpired) {
				log.Warnf("⏰ Pairing code expired, restart to request a new one")
				return
			}
			log.Errorf("❌ [SESSION] %v", err)
		},
	}, log.Sub("Session"))

	go func() {
		if err := runServer(ctx, ":"+cfg.Port, newRouter(cfg, hub, bot), log); err != nil {
			log.Errorf("❌ Server error: %v", err)
		}
	}()

	if err := session.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		fmt.Println("\n🛑 Shutting down system...")
		session.Stop()
		fmt.Println("👋 Goodbye!")
		return nil
	case err := <-fatal:
		session.Stop()
		return err
	}
}
