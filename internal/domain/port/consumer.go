package port

import (
	"context"
	"image"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

// AutomationSink мост к автоматике (PLC). Получает поля из automation_keys и флаги решения.
type AutomationSink interface {
	SendDecision(ctx context.Context, frameID string, decision entity.Decision, fields map[string]any) error
}

// FactoryReporter отчёт в облако/фабрику. Получает поля из factory_keys и теги.
type FactoryReporter interface {
	Report(ctx context.Context, frameID string, tags []string, fields map[string]any) error
}

// Archive локальный архив кадров и разметки
type Archive interface {
	// Save сохраняет аннотированный кадр и разметку (labels может быть nil)
	Save(ctx context.Context, frameID string, annotated image.Image, labels *entity.PredictionSet, tags []string) error
}

// Notifier оповещение оператора о забракованных и сбойных кадрах
type Notifier interface {
	Notify(ctx context.Context, frameID, verdict string, tags []string, annotated image.Image) error
}
