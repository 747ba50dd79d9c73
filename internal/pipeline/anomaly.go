package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

// KeyAnomalyScore сумма ошибок реконструкции выше порога
const KeyAnomalyScore = "anomaly_score"

// AnomalyStrategy кадр проверяется детектором аномалий:
// сумма значений карты ошибок выше err_threshold сравнивается с err_size.
type AnomalyStrategy struct {
	Role string
}

func (s *AnomalyStrategy) Name() string { return "anomaly" }

func (s *AnomalyStrategy) role() string {
	if s.Role == "" {
		return RoleAnomaly
	}
	return s.Role
}

func (s *AnomalyStrategy) Roles() []string { return []string{s.role()} }

func (s *AnomalyStrategy) Run(ctx context.Context, in Input, result *entity.Result) error {
	start := time.Now()
	flags, timing, err := s.inspect(ctx, in, in.Frame.Image, result)
	if err != nil {
		return err
	}
	record(in, result, flags, timing, time.Since(start))
	return nil
}

// inspect строит карту ошибок кадра и рисует её поверх base
func (s *AnomalyStrategy) inspect(ctx context.Context, in Input, base image.Image, result *entity.Result) (entity.Decision, entity.Timing, error) {
	var timing entity.Timing

	model, loaded, err := in.Registry.Anomaly(s.role())
	if err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "lookup", Err: err}
	}
	cfg := effective(loaded, in.Configs, s.role())

	inferStart := time.Now()
	errMap, err := model.Predict(ctx, in.Frame.Image)
	if err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "inference", Err: err}
	}
	timing.Inference = time.Since(inferStart)

	postStart := time.Now()
	score := errMap.SumAbove(cfg.ErrThresh)
	flags := entity.DecisionNone
	if score >= cfg.ErrSize {
		flags |= entity.DecisionAnomaly
	}

	annotated, err := model.Annotate(base, errMap, cfg.ErrThresh, cfg.ErrMax)
	if err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "annotate", Err: err}
	}
	result.Update(entity.KeyOutputs, annotated, entity.SubKey(entity.KeyAnnotated))
	result.Update(KeyAnomalyScore, score, entity.ToFactory())
	timing.Postprocess = time.Since(postStart)
	return flags, timing, nil
}
