package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/api"
	"marketchat/internal/auth"
	"marketchat/internal/bus"
	"marketchat/internal/config"
	"marketchat/internal/db"
	"marketchat/internal/hub"
	"marketchat/internal/logger"
	"marketchat/internal/repository"
	"marketchat/internal/storage"
	tasks "marketchat/internal/Tasks"
	"marketchat/migrations"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	issue := flag.String("issue-token", "", "print an access token for the given user id and exit")
	flag.Parse()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("invalid configuration", "error", err)
	}
	signer := auth.NewSigner(cfg.AuthKey, 24*time.Hour)

	if *issue != "" {
		id, err := uuid.Parse(*issue)
		if err != nil {
			log.Fatal("issue-token needs a user uuid", "error", err)
		}
		token, err := signer.GenerateToken(id)
		if err != nil {
			log.Fatal("could not sign token", "error", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, signer, *migrate, log); err != nil {
		log.Fatal("server stopped", "error", err)
	}
	log.Info("graceful shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, signer *auth.Signer, migrate bool, log *logger.Logger) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := db.Migrate(ctx, pool, migrations.FS, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	messages := repository.NewMessagesRepo(pool, log)
	rooms := repository.NewRoomRepo(pool, log)
	users := repository.NewUserRepo(pool)

	store, err := storage.New(storage.Options{
		Dir:        cfg.UploadDir,
		BaseURL:    cfg.PublicBaseURL,
		SigningKey: cfg.UploadSigningKey,
		TTL:        cfg.UploadTTL,
		Log:        log,
	})
	if err != nil {
		return err
	}

	instance := uuid.NewString()
	var relay bus.Bus
	if cfg.RedisURL != "" {
		relay, err = bus.NewRedisBus(ctx, cfg.RedisURL, instance, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer relay.Close()
	}

	h := hub.New(messages, rooms, relay, hub.Options{
		InstanceID:     instance,
		MediaPrefix:    cfg.PublicBaseURL + "/files/",
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)
	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()

	cleaner := tasks.NewUploadCleaner(store, "", log)
	if err := cleaner.Start(); err != nil {
		return err
	}
	defer cleaner.Stop()

	router := api.NewRouter(api.RouterConfig{
		Handler:        api.NewHandler(messages, rooms, store, log),
		Tokens:         signer,
		Users:          users,
		Websocket:      h.ServeWS,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr, "instance", instance)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		h.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, cleaning up")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	h.Stop()
	<-hubDone
	return nil
}
