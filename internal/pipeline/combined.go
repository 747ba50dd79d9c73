package pipeline

import (
	"context"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

// CombinedStrategy кадр проверяют детектор аномалий и детектор объектов.
// Объекты рисуются поверх карты ошибок, флаги решений объединяются:
// аномалия и дефект вместе дают DecisionBoth.
type CombinedStrategy struct {
	Anomaly   AnomalyStrategy
	Detection DetectionStrategy
}

func (s *CombinedStrategy) Name() string { return "combined" }

func (s *CombinedStrategy) Roles() []string {
	return append(s.Anomaly.Roles(), s.Detection.Roles()...)
}

func (s *CombinedStrategy) Run(ctx context.Context, in Input, result *entity.Result) error {
	start := time.Now()

	adFlags, adTiming, err := s.Anomaly.inspect(ctx, in, in.Frame.Image, result)
	if err != nil {
		return err
	}

	base := result.Annotated()
	if base == nil {
		base = in.Frame.Image
	}
	odFlags, odTiming, err := s.Detection.inspect(ctx, in, base, result)
	if err != nil {
		return err
	}

	record(in, result, adFlags|odFlags, adTiming.Add(odTiming), time.Since(start))
	return nil
}
