package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/pipeline"
)

// Models описания ролей, с которыми работает сервис
type Models struct {
	Local   entity.ModelConfigs // описание конвейера
	Factory entity.ModelConfigs // описания, переданные фабрикой
	Runtime entity.ModelConfigs // пороги для Predict; пусто, если совпадают с Local
}

// Consumers потребители результата. Любой может отсутствовать.
type Consumers struct {
	Automation port.AutomationSink
	Factory    port.FactoryReporter
	Archive    port.Archive
}

// Stats счётчики для статусных поверхностей
type Stats struct {
	State          entity.PipelineState `json:"state"`
	Strategy       string               `json:"strategy"`
	Models         []string             `json:"models"`
	Frames         int                  `json:"frames"`
	Passed         int                  `json:"passed"`
	Failed         int                  `json:"failed"`
	Errors         int                  `json:"errors"`
	Archived       int                  `json:"archived"`
	ConsumerErrors int                  `json:"consumer_errors"`
	LastFrameID    string               `json:"last_frame_id,omitempty"`
	LastVerdict    string               `json:"last_verdict,omitempty"`
	LastDecision   entity.Decision      `json:"last_decision"`
	LastAt         time.Time            `json:"last_at,omitempty"`
}

// InspectionOutput результат проверки кадра
type InspectionOutput struct {
	Frame    entity.Frame
	Result   *entity.Result
	Duration time.Duration
}

// Failed кадр забракован или обработан с ошибкой
func (o *InspectionOutput) Failed() bool {
	return o.Result.Verdict() == entity.VerdictFail || slices.Contains(o.Result.Tags(), entity.TagError)
}

type InspectionService struct {
	pipeline  *pipeline.Pipeline
	models    Models
	consumers Consumers
	logger    *slog.Logger

	mu        sync.RWMutex
	notifiers []port.Notifier
	stats     Stats
	last      *InspectionOutput
}

// NewInspectionService создаёт сервис, который прогоняет кадры через конвейер
// и раздаёт результат автоматике, фабрике и архиву.
func NewInspectionService(p *pipeline.Pipeline, models Models, consumers Consumers, logger *slog.Logger) *InspectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if models.Runtime == nil {
		models.Runtime = models.Local
	}
	return &InspectionService{
		pipeline:  p,
		models:    models,
		consumers: consumers,
		logger:    logger,
	}
}

// Subscribe добавляет получателя оповещений о FAIL/ERROR кадрах
func (s *InspectionService) Subscribe(n port.Notifier) {
	s.mu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.mu.Unlock()
}

// Start загружает и прогревает модели. Ошибка означает, что работать нельзя.
func (s *InspectionService) Start(ctx context.Context) error {
	if err := s.pipeline.Load(ctx, s.models.Factory, s.models.Local); err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	if err := s.pipeline.WarmUp(ctx); err != nil {
		return errors.Join(fmt.Errorf("warm up pipeline: %w", err), s.pipeline.CleanUp(ctx))
	}
	s.logger.Info("inspection service started",
		"strategy", s.pipeline.Strategy(),
		"models", s.pipeline.Registry().Roles())
	return nil
}

// Inspect обрабатывает кадр и маршрутизирует результат потребителям.
// Сбои потребителей логируются и считаются, но не прерывают обработку.
func (s *InspectionService) Inspect(ctx context.Context, frame entity.Frame) (*InspectionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := s.pipeline.Predict(ctx, s.models.Runtime, frame)
	out := &InspectionOutput{Frame: frame, Result: result, Duration: time.Since(start)}

	failures := s.route(ctx, out)
	s.record(out, failures)

	s.logger.Info("frame inspected",
		"frame_id", frame.ID,
		"source", frame.Source,
		"verdict", result.Verdict(),
		"decision", result.Decision(),
		"tags", result.Tags(),
		"duration", out.Duration)
	return out, nil
}

// Preview проверяет кадр оператора без последствий для линии:
// результат не уходит автоматике, фабрике, в архив и оповещения,
// счётчики и периодическая выборка в архив не меняются.
func (s *InspectionService) Preview(ctx context.Context, frame entity.Frame) (*InspectionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := s.pipeline.Preview(ctx, s.models.Runtime, frame)
	out := &InspectionOutput{Frame: frame, Result: result, Duration: time.Since(start)}

	s.logger.Info("frame previewed",
		"frame_id", frame.ID,
		"source", frame.Source,
		"verdict", result.Verdict(),
		"decision", result.Decision(),
		"duration", out.Duration)
	return out, nil
}

func (s *InspectionService) route(ctx context.Context, out *InspectionOutput) (failures int) {
	res := out.Result
	id := out.Frame.ID

	if sink := s.consumers.Automation; sink != nil && len(res.AutomationKeys()) > 0 {
		if err := sink.SendDecision(ctx, id, res.Decision(), res.AutomationFields()); err != nil {
			s.logger.ErrorContext(ctx, "failed to send decision to automation", "frame_id", id, logging.Err(err))
			failures++
		}
	}

	if reporter := s.consumers.Factory; reporter != nil {
		if !res.CheckSerializable(res.FactoryKeys()...) {
			s.logger.WarnContext(ctx, "factory report skipped: fields are not serializable", "frame_id", id)
			failures++
		} else if err := reporter.Report(ctx, id, res.Tags(), res.FactoryFields()); err != nil {
			s.logger.ErrorContext(ctx, "failed to report to factory", "frame_id", id, logging.Err(err))
			failures++
		}
	}

	if archive := s.consumers.Archive; archive != nil && res.ShouldArchive() {
		img := res.Annotated()
		if img == nil {
			img = out.Frame.Image
		}
		if err := archive.Save(ctx, id, img, res.Labels(), res.Tags()); err != nil {
			s.logger.ErrorContext(ctx, "failed to archive frame", "frame_id", id, logging.Err(err))
			failures++
		}
	}

	if out.Failed() {
		s.mu.RLock()
		notifiers := slices.Clone(s.notifiers)
		s.mu.RUnlock()

		verdict := res.Verdict()
		if verdict == "" {
			verdict = entity.TagError
		}
		for _, n := range notifiers {
			if err := n.Notify(ctx, id, verdict, res.Tags(), res.Annotated()); err != nil {
				s.logger.ErrorContext(ctx, "failed to notify operator", "frame_id", id, logging.Err(err))
				failures++
			}
		}
	}
	return failures
}

func (s *InspectionService) record(out *InspectionOutput, consumerErrors int) {
	res := out.Result

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Frames++
	switch {
	case slices.Contains(res.Tags(), entity.TagError):
		s.stats.Errors++
	case res.Verdict() == entity.VerdictFail:
		s.stats.Failed++
	case res.Verdict() == entity.VerdictPass:
		s.stats.Passed++
	}
	if res.ShouldArchive() && s.consumers.Archive != nil {
		s.stats.Archived++
	}
	s.stats.ConsumerErrors += consumerErrors
	s.stats.LastFrameID = out.Frame.ID
	s.stats.LastVerdict = res.Verdict()
	s.stats.LastDecision = res.Decision()
	s.stats.LastAt = time.Now()
	s.last = out
}

// Run обрабатывает кадры источника, пока он не вернёт io.EOF или не отменят ctx
func (s *InspectionService) Run(ctx context.Context, source port.FrameSource) error {
	for {
		frame, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next frame: %w", err)
		}
		if _, err := s.Inspect(ctx, frame); err != nil {
			return err
		}
	}
}

// Stats снимок счётчиков
func (s *InspectionService) Stats() Stats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()

	stats.State = s.pipeline.State()
	stats.Strategy = s.pipeline.Strategy()
	stats.Models = s.pipeline.Registry().Roles()
	return stats
}

// Last последний обработанный кадр или nil
func (s *InspectionService) Last() *InspectionOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Stop освобождает модели
func (s *InspectionService) Stop(ctx context.Context) error {
	if err := s.pipeline.CleanUp(ctx); err != nil {
		return fmt.Errorf("clean up pipeline: %w", err)
	}
	s.logger.Info("inspection service stopped", "frames", s.Stats().Frames)
	return nil
}
