package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/config"
	telegram "github.com/lmitechnologies/Gadget-Inspection-Template/internal/api"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/api/status"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/container"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/infrastructure/vision"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.Init(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("inspection stopped with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def, err := config.LoadDefinition(cfg.PipelineDef)
	if err != nil {
		return err
	}

	var factory entity.ModelConfigs
	if cfg.FactoryModels != "" {
		if factory, err = config.LoadFactoryModels(cfg.FactoryModels); err != nil {
			return err
		}
		logger.Info("factory model descriptions loaded", "count", len(factory))
	}

	// Собираем конвейер и потребителей
	c, err := container.New(ctx, cfg, def, factory, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("failed to close connections", logging.Err(err))
		}
	}()

	service := c.InspectionService
	if err := service.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := service.Stop(stopCtx); err != nil {
			logger.Error("failed to stop inspection", logging.Err(err))
		}
	}()

	var wg sync.WaitGroup
	surfaces, cancelSurfaces := context.WithCancel(ctx)
	defer func() {
		cancelSurfaces()
		wg.Wait()
	}()

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.TelegramChatID, service, logger.With("component", "telegram"))
		if err != nil {
			return err
		}
		service.Subscribe(bot)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(surfaces); err != nil {
				logger.Error("telegram bot stopped", logging.Err(err))
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		var opts []status.Option
		if c.Publisher != nil {
			opts = append(opts, status.WithPublisher(c.Publisher))
		}
		srv := status.NewServer(cfg.HTTPAddr, service, logger.With("component", "status"), opts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(surfaces); err != nil {
				logger.Error("status server stopped", logging.Err(err))
			}
		}()
	}

	source, err := vision.NewDirectorySource(cfg.FramesDir)
	if err != nil {
		return err
	}
	defer source.Close()

	logger.Info("inspection is running", "frames_dir", cfg.FramesDir, "frames", source.Len())
	if err := service.Run(ctx, source); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := service.Stats()
	logger.Info("inspection finished",
		"frames", stats.Frames,
		"passed", stats.Passed,
		"failed", stats.Failed,
		"errors", stats.Errors,
		"consumer_errors", stats.ConsumerErrors)

	// Без входящих кадров остаёмся доступны оператору до сигнала
	if cfg.TelegramToken != "" || cfg.HTTPAddr != "" {
		<-ctx.Done()
	}
	return nil
}
