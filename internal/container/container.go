package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lmitechnologies/Gadget-Inspection-Template/config"
	app "github.com/lmitechnologies/Gadget-Inspection-Template/internal/application"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/infrastructure/automation"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/infrastructure/storage"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/infrastructure/vision"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/pipeline"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/registry"
)

// memoryArchiveLimit сколько кадров держит архив в памяти
const memoryArchiveLimit = 500

type Container struct {
	Pipeline          *pipeline.Pipeline
	InspectionService *app.InspectionService
	Publisher         *automation.MQTTPublisher // nil без брокера

	closers []func() error
}

// New собирает конвейер и потребителей результата.
// factory может быть nil, тогда используются локальные описания моделей.
func New(ctx context.Context, cfg *config.Config, def *config.Definition, factory entity.ModelConfigs, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	strategy, err := pipeline.Select(def.Models, def.Order, vision.NewImagingProcessor(), def.Letterbox)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Constructors{
		Anomaly:  vision.NewAnomalyModel,
		Detector: vision.NewDetectorModel,
	}, logger.With("component", "registry"))

	archiveEvery := def.ArchiveEvery
	if cfg.ArchiveEvery > 0 {
		archiveEvery = cfg.ArchiveEvery
	}
	p := pipeline.New(reg, strategy,
		pipeline.WithLogger(logger.With("component", "pipeline")),
		pipeline.WithArchiveEvery(archiveEvery),
		pipeline.WithRoleOrder(def.Order),
	)

	c := &Container{Pipeline: p}
	consumers := app.Consumers{}

	if cfg.MQTTBroker != "" {
		client, err := automation.Connect(ctx, cfg.MQTTBroker, cfg.MQTTClientID, logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, disconnect(client))

		c.Publisher = automation.NewMQTTPublisher(client, cfg.MQTTPrefix, 1, logger.With("component", "mqtt"))
		consumers.Automation = c.Publisher
		consumers.Factory = c.Publisher
	} else {
		logger.Warn("MQTT_BROKER is not set, automation and factory reports are disabled")
	}

	if cfg.SQLitePath != "" {
		archive, err := storage.NewSQLiteArchive(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open archive: %w", err), c.Close())
		}
		c.closers = append(c.closers, archive.Close)
		consumers.Archive = archive
	} else {
		consumers.Archive = storage.NewMemoryArchive(memoryArchiveLimit)
	}

	c.InspectionService = app.NewInspectionService(p, app.Models{
		Local:   def.Models,
		Factory: factory,
		Runtime: def.Runtime,
	}, consumers, logger.With("component", "inspection"))

	return c, nil
}

// Close освобождает внешние соединения в обратном порядке
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func disconnect(client mqtt.Client) func() error {
	return func() error {
		client.Disconnect(250)
		return nil
	}
}
