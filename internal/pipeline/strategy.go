package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/registry"
)

// Роли моделей по умолчанию
const (
	RoleAnomaly   = "ad_model"
	RoleDetection = "od_model"
)

// Input данные одного вызова стратегии
type Input struct {
	Frame        entity.Frame
	Configs      entity.ModelConfigs // параметры времени выполнения, могут перекрывать пороги
	Index        int                 // порядковый номер кадра с момента загрузки, с 1
	ArchiveEvery int
	Registry     *registry.Registry
}

// Strategy обработка кадра конкретным набором моделей
type Strategy interface {
	Name() string

	// Roles роли, без которых стратегия не может работать
	Roles() []string

	// Run заполняет result. Ошибка обрабатывается конвейером.
	Run(ctx context.Context, in Input, result *entity.Result) error
}

// Select выбирает стратегию по типам моделей в конфигурации: обе семьи дают
// CombinedStrategy, только anomaly_detection даёт AnomalyStrategy, только
// детекторы дают DetectionStrategy. Внутри семьи берётся первая роль в порядке order.
func Select(configs entity.ModelConfigs, order []string, processor port.FrameProcessor, letterbox bool) (Strategy, error) {
	var anomaly, detector string
	for _, role := range configs.OrderedRoles(ModelFilter, order) {
		switch configs[role].ModelType.Family() {
		case entity.FamilyAnomaly:
			if anomaly == "" {
				anomaly = role
			}
		case entity.FamilyDetector:
			if detector == "" {
				detector = role
			}
		}
	}

	detection := DetectionStrategy{Role: detector, Processor: processor, Letterbox: letterbox}
	switch {
	case anomaly != "" && detector != "":
		return &CombinedStrategy{Anomaly: AnomalyStrategy{Role: anomaly}, Detection: detection}, nil
	case anomaly != "":
		return &AnomalyStrategy{Role: anomaly}, nil
	case detector != "":
		return &detection, nil
	default:
		return nil, fmt.Errorf("%w: no model roles with a known model type", entity.ErrModelLoad)
	}
}

// effective накладывает пороги времени выполнения на описание загруженной модели.
// Размер входа и путь остаются от загруженной модели.
func effective(loaded entity.ModelConfig, runtime entity.ModelConfigs, role string) entity.ModelConfig {
	rt, ok := runtime[role]
	if !ok {
		return loaded
	}
	cfg := loaded
	if len(rt.Confidence) > 0 {
		cfg.Confidence = rt.Confidence
	}
	if rt.IOU > 0 {
		cfg.IOU = rt.IOU
	}
	if len(rt.Colors) > 0 {
		cfg.Colors = rt.Colors
	}
	if rt.ErrThresh > 0 {
		cfg.ErrThresh = rt.ErrThresh
	}
	if rt.ErrMax > 0 {
		cfg.ErrMax = rt.ErrMax
	}
	if rt.ErrSize > 0 {
		cfg.ErrSize = rt.ErrSize
	}
	return cfg
}

// record пишет решение и маршрутизирует его потребителям:
// decision автоматике, tags и timing фабрике.
func record(in Input, result *entity.Result, flags entity.Decision, timing entity.Timing, total time.Duration) {
	verdict := flags.Verdict()
	result.Update(entity.KeyDecision, verdict, entity.ToAutomation())
	result.Update(entity.KeyTags, verdict, entity.ToFactory())
	result.Update(entity.KeyDecisionFlags, flags)

	seconds := timing.Seconds()
	seconds["total"] = total.Seconds()
	result.Update(entity.KeyTiming, seconds, entity.ToFactory())

	periodic := in.ArchiveEvery > 0 && in.Index%in.ArchiveEvery == 0
	if verdict == entity.VerdictFail || periodic {
		result.Update(entity.KeyShouldArchive, true)
	}
}
