// Package pipeline связывает реестр моделей и стратегию обработки кадра
// в конвейер с жизненным циклом load → warm up → predict → clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/registry"
)

// ModelFilter подстрока, по которой роли моделей отбираются из конфигурации
const ModelFilter = "_model"

var ErrEmptyFrame = errors.New("frame has no pixels")

// Pipeline конвейер инспекции. Кадры обрабатываются по одному.
type Pipeline struct {
	registry *registry.Registry
	strategy Strategy
	logger   *slog.Logger

	archiveEvery int
	order        []string // порядок объявления ролей

	mu    sync.Mutex // сериализует Load/WarmUp/Predict/CleanUp
	state entity.PipelineState
	index int
	smu   sync.RWMutex // защищает state для читателей State()
}

// Option настройка конвейера
type Option func(*Pipeline)

// WithLogger логгер конвейера
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithArchiveEvery архивировать каждый n-й кадр независимо от решения (0 выключает)
func WithArchiveEvery(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.archiveEvery = n
		}
	}
}

// WithRoleOrder порядок загрузки ролей; освобождаются они в обратном порядке
func WithRoleOrder(order []string) Option {
	return func(p *Pipeline) {
		p.order = append([]string(nil), order...)
	}
}

// New создаёт конвейер в состоянии unloaded
func New(reg *registry.Registry, strategy Strategy, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: reg,
		strategy: strategy,
		logger:   slog.Default(),
		state:    entity.StateUnloaded,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State текущее состояние
func (p *Pipeline) State() entity.PipelineState {
	p.smu.RLock()
	defer p.smu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s entity.PipelineState) {
	p.smu.Lock()
	prev := p.state
	p.state = s
	p.smu.Unlock()
	if prev != s {
		p.logger.Debug("pipeline state changed", "from", prev, "to", s)
	}
}

// Registry реестр моделей конвейера
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Strategy имя стратегии обработки
func (p *Pipeline) Strategy() string {
	return p.strategy.Name()
}

// Load загружает модели всех ролей "*_model". Ошибка фатальна.
func (p *Pipeline) Load(ctx context.Context, factory entity.ModelConfigs, configs entity.ModelConfigs) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); !s.CanLoad() {
		return fmt.Errorf("%w: load from %s", entity.ErrInvalidState, s)
	}
	if err := p.registry.Load(ctx, factory, configs, ModelFilter, p.order...); err != nil {
		if !errors.Is(err, entity.ErrModelLoad) {
			err = fmt.Errorf("%w: %w", entity.ErrModelLoad, err)
		}
		return err
	}
	for _, role := range p.strategy.Roles() {
		if _, err := p.registry.Get(role); err != nil {
			cleanErr := p.registry.CleanUp(ctx)
			return errors.Join(fmt.Errorf("%w: strategy %s: %w", entity.ErrModelLoad, p.strategy.Name(), err), cleanErr)
		}
	}

	p.index = 0
	p.setState(entity.StateLoaded)
	p.logger.Info("pipeline loaded", "strategy", p.strategy.Name(), "models", p.registry.Roles())
	return nil
}

// WarmUp прогревает модели. Ошибка фатальна: конвейер остаётся в loaded.
func (p *Pipeline) WarmUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); !s.CanWarmUp() {
		return fmt.Errorf("%w: warm up from %s", entity.ErrInvalidState, s)
	}
	if err := p.registry.WarmUp(ctx); err != nil {
		return err
	}
	p.setState(entity.StateWarmed)
	return nil
}

// Predict обрабатывает кадр. Никогда не возвращает ошибку и не паникует:
// сбой записывается в errors (фабрике), к tags добавляется ERROR,
// кадр помечается для архива, и возвращается частичный результат.
func (p *Pipeline) Predict(ctx context.Context, configs entity.ModelConfigs, frame entity.Frame) *entity.Result {
	return p.predict(ctx, configs, frame, false)
}

// Preview обрабатывает кадр вне потока линии: номер кадра не растёт,
// периодическая выборка в архив не сдвигается, состояние не меняется.
func (p *Pipeline) Preview(ctx context.Context, configs entity.ModelConfigs, frame entity.Frame) *entity.Result {
	return p.predict(ctx, configs, frame, true)
}

func (p *Pipeline) predict(ctx context.Context, configs entity.ModelConfigs, frame entity.Frame, preview bool) (result *entity.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result = entity.NewResult()
	result.SetLogger(p.logger)

	defer func() {
		if rec := recover(); rec != nil {
			p.fail(ctx, frame, result, &entity.PredictionError{Stage: "panic", Err: fmt.Errorf("%v", rec)})
		}
	}()

	state := p.State()
	if !state.CanPredict() {
		p.fail(ctx, frame, result, &entity.PredictionError{
			Stage: "state",
			Err:   fmt.Errorf("%w: predict from %s", entity.ErrInvalidState, state),
		})
		return result
	}
	if frame.Empty() {
		p.fail(ctx, frame, result, &entity.PredictionError{Stage: "input", Err: ErrEmptyFrame})
		return result
	}

	in := Input{
		Frame:    frame,
		Configs:  configs,
		Registry: p.registry,
	}
	if !preview {
		p.index++
		in.Index = p.index
		in.ArchiveEvery = p.archiveEvery
	}
	if err := p.strategy.Run(ctx, in, result); err != nil {
		var perr *entity.PredictionError
		if !errors.As(err, &perr) {
			err = &entity.PredictionError{Stage: p.strategy.Name(), Err: err}
		}
		p.fail(ctx, frame, result, err)
		return result
	}

	if state == entity.StateWarmed && !preview {
		p.setState(entity.StateServing)
	}
	return result
}

func (p *Pipeline) fail(ctx context.Context, frame entity.Frame, result *entity.Result, err error) {
	p.logger.ErrorContext(ctx, "frame processing failed", "frame_id", frame.ID, logging.Err(err))
	result.Update(entity.KeyErrors, err.Error(), entity.ToFactory())
	result.Update(entity.KeyTags, entity.TagError, entity.ToFactory())
	result.Update(entity.KeyShouldArchive, true)
}

// CleanUp освобождает модели из любого состояния; конвейер переходит в cleaned
func (p *Pipeline) CleanUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.registry.CleanUp(ctx)
	p.setState(entity.StateCleaned)
	p.logger.Info("pipeline cleaned up", "frames", p.index)
	return err
}
