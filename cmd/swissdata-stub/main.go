package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swissdata/internal/config"
	"swissdata/internal/storage"
	"swissdata/internal/store"
	"swissdata/internal/stub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("swissdata-stub", pflag.ContinueOnError)
	flags.Int("port", 3000, "port to listen on")
	flags.String("db", "memory", "record store: memory or postgres")
	flags.String("storage", "./uploads", "directory of uploaded files")
	flags.String("log-level", "info", "log level")
	if err := flags.Parse(args); err != nil {
		return err
	}

	v := viper.New()
	_ = v.BindPFlag("stub.port", flags.Lookup("port"))
	_ = v.BindPFlag("stub.database.driver", flags.Lookup("db"))
	_ = v.BindPFlag("stub.storage_path", flags.Lookup("storage"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	// 1. Load config
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.InitLogger(cfg.Log)

	// 2. Open the record store
	records, err := store.New(ctx, cfg.Stub.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer records.Close()
	log.WithField("driver", cfg.Stub.Database.Driver).Info("record store ready")

	// 3. Build the server
	srv := stub.New(cfg.Stub, records, storage.NewLocal(cfg.Stub.StoragePath))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			if err := srv.Shutdown(); err != nil {
				log.WithError(err).Error("shutdown")
			}
		case <-done:
		}
	}()

	// 4. Start server
	addr := fmt.Sprintf(":%d", cfg.Stub.Port)
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("server stopped")
	return nil
}
