// Package registry хранит модели конвейера в порядке загрузки.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
)

// Source откуда взято описание роли
type Source string

const (
	SourceDefault Source = "default" // локальное описание конвейера
	SourceFactory Source = "factory" // описание, переданное фабрикой
)

var ErrDuplicateRole = errors.New("role is already registered")

// Constructors конструкторы для двух семейств моделей
type Constructors struct {
	Anomaly  func(ctx context.Context, role string, cfg entity.ModelConfig) (port.AnomalyDetector, error)
	Detector func(ctx context.Context, role string, cfg entity.ModelConfig) (port.ObjectDetector, error)
}

// Entry зарегистрированная модель
type Entry struct {
	Role     string
	Model    port.Model
	Family   entity.ModelFamily
	Source   Source
	Config   entity.ModelConfig
	LoadedAt time.Time
}

// Registry упорядоченный набор моделей. Не безопасен для конкурентного использования.
type Registry struct {
	entries      []*Entry
	constructors Constructors
	logger       *slog.Logger
	now          func() time.Time
}

// New создаёт пустой реестр
func New(constructors Constructors, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:      []*Entry{},
		constructors: constructors,
		logger:       logger,
		now:          time.Now,
	}
}

// inheritedKeys ключи, которые есть только в локальном описании
var inheritedKeys = []struct {
	name    string
	missing func(c entity.ModelConfig) bool
	copy    func(dst *entity.ModelConfig, src entity.ModelConfig)
}{
	{
		name:    "tiling",
		missing: func(c entity.ModelConfig) bool { return c.Tiling == nil },
		copy:    func(dst *entity.ModelConfig, src entity.ModelConfig) { dst.Tiling = src.Tiling },
	},
	{
		name:    "image_size",
		missing: func(c entity.ModelConfig) bool { return len(c.ImageSize) == 0 },
		copy:    func(dst *entity.ModelConfig, src entity.ModelConfig) { dst.ImageSize = src.ImageSize },
	},
}

// Resolve выбирает описание роли: фабричное, если конфиг явно разрешает
// (use_factory) и фабрика передала известный model_type, иначе локальное.
func (r *Registry) Resolve(role string, factory entity.ModelConfigs, local entity.ModelConfig) (entity.ModelConfig, Source) {
	ext, ok := factory[role]
	switch {
	case !local.UseFactory:
		return local, SourceDefault
	case !ok:
		r.logger.Info("factory descriptor not found, using default", "role", role)
		return local, SourceDefault
	case !ext.ModelType.Recognized():
		r.logger.Warn("factory descriptor has unrecognized model type, using default",
			"role", role, "model_type", ext.ModelType)
		return local, SourceDefault
	}

	for _, key := range inheritedKeys {
		if key.missing(ext) && !key.missing(local) {
			r.logger.Warn("factory descriptor misses key, inheriting from default", "role", role, "key", key.name)
			key.copy(&ext, local)
		}
	}
	ext.UseFactory = true
	return ext, SourceFactory
}

// Load загружает роли из configs, чьи имена содержат filter (например "_model").
// order порядок объявления ролей в описании; регистрация и обратный ему порядок
// освобождения следуют ему. Роли вне order загружаются следом по алфавиту.
// Загрузка атомарна: при ошибке уже созданные модели освобождаются.
func (r *Registry) Load(ctx context.Context, factory entity.ModelConfigs, configs entity.ModelConfigs, filter string, order ...string) error {
	loaded := len(r.entries)

	for _, role := range configs.OrderedRoles(filter, order) {
		cfg, source := r.Resolve(role, factory, configs[role])
		if err := r.load(ctx, role, cfg, source); err != nil {
			r.rollback(ctx, loaded)
			return err
		}
	}
	return nil
}

func (r *Registry) load(ctx context.Context, role string, cfg entity.ModelConfig, source Source) error {
	if _, ok := r.find(role); ok {
		return fmt.Errorf("%w: %s: %w", entity.ErrModelLoad, role, ErrDuplicateRole)
	}

	start := r.now()
	var (
		model port.Model
		err   error
	)

	family := cfg.ModelType.Family()
	switch family {
	case entity.FamilyAnomaly:
		if r.constructors.Anomaly == nil {
			return fmt.Errorf("%w: %s: no anomaly constructor", entity.ErrModelLoad, role)
		}
		var m port.AnomalyDetector
		m, err = r.constructors.Anomaly(ctx, role, cfg)
		model = m
	case entity.FamilyDetector:
		if r.constructors.Detector == nil {
			return fmt.Errorf("%w: %s: no detector constructor", entity.ErrModelLoad, role)
		}
		var m port.ObjectDetector
		m, err = r.constructors.Detector(ctx, role, cfg)
		model = m
	default:
		return &entity.UnsupportedModelTypeError{Role: role, ModelType: cfg.ModelType}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", entity.ErrModelLoad, role, err)
	}
	if model == nil {
		return fmt.Errorf("%w: %s: constructor returned no model", entity.ErrModelLoad, role)
	}

	r.entries = append(r.entries, &Entry{
		Role:     role,
		Model:    model,
		Family:   family,
		Source:   source,
		Config:   cfg,
		LoadedAt: r.now(),
	})
	r.logger.Info("model loaded",
		"role", role,
		"model_type", cfg.ModelType,
		"source", source,
		"path", cfg.ModelPath,
		"load_time", r.now().Sub(start))
	return nil
}

// rollback освобождает модели, загруженные после позиции keep
func (r *Registry) rollback(ctx context.Context, keep int) {
	for len(r.entries) > keep {
		last := r.entries[len(r.entries)-1]
		r.entries = r.entries[:len(r.entries)-1]
		if err := last.Model.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to release model after load error", "role", last.Role, logging.Err(err))
		}
	}
}

// WarmUp прогревает модели в порядке загрузки
func (r *Registry) WarmUp(ctx context.Context) error {
	for _, e := range r.entries {
		var size [2]int
		if h, w, ok := e.Config.InputSize(); ok {
			size = [2]int{h, w}
		}

		start := r.now()
		if err := e.Model.Warmup(ctx, size); err != nil {
			return &entity.WarmupError{Role: e.Role, Err: err}
		}
		r.logger.Info("model warmed up", "role", e.Role, "warmup_time", r.now().Sub(start))
	}
	return nil
}

// CleanUp освобождает модели в обратном порядке: последняя загруженная первой.
// Реестр остаётся пустым и пригодным для повторной загрузки.
func (r *Registry) CleanUp(ctx context.Context) error {
	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if err := e.Model.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to clean up model", "role", e.Role, logging.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.Role, err))
			continue
		}
		r.logger.Info("model cleaned up", "role", e.Role)
	}
	r.entries = []*Entry{}
	return errors.Join(errs...)
}

func (r *Registry) find(role string) (*Entry, bool) {
	for _, e := range r.entries {
		if e.Role == role {
			return e, true
		}
	}
	return nil, false
}

// Get модель по роли
func (r *Registry) Get(role string) (*Entry, error) {
	e, ok := r.find(role)
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrModelNotLoaded, role)
	}
	return e, nil
}

// Anomaly модель роли как детектор аномалий
func (r *Registry) Anomaly(role string) (port.AnomalyDetector, entity.ModelConfig, error) {
	e, err := r.Get(role)
	if err != nil {
		return nil, entity.ModelConfig{}, err
	}
	m, ok := e.Model.(port.AnomalyDetector)
	if !ok {
		return nil, entity.ModelConfig{}, fmt.Errorf("%s: model is %s, not anomaly detector", role, e.Family)
	}
	return m, e.Config, nil
}

// Detector модель роли как детектор объектов
func (r *Registry) Detector(role string) (port.ObjectDetector, entity.ModelConfig, error) {
	e, err := r.Get(role)
	if err != nil {
		return nil, entity.ModelConfig{}, err
	}
	m, ok := e.Model.(port.ObjectDetector)
	if !ok {
		return nil, entity.ModelConfig{}, fmt.Errorf("%s: model is %s, not object detector", role, e.Family)
	}
	return m, e.Config, nil
}

// Entries копия записей в порядке загрузки
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// Roles имена ролей в порядке загрузки
func (r *Registry) Roles() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Role)
	}
	return out
}

// Len число загруженных моделей
func (r *Registry) Len() int {
	return len(r.entries)
}
