package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// DetectionStrategy кадр приводится к размеру входа модели, найденные объекты
// возвращаются в координаты исходного кадра и попадают в outputs.labels.
// Любой найденный объект означает FAIL.
type DetectionStrategy struct {
	Role      string
	Processor port.FrameProcessor
	Letterbox bool // вписать с полями вместо растяжения
}

func (s *DetectionStrategy) Name() string { return "detection" }

func (s *DetectionStrategy) role() string {
	if s.Role == "" {
		return RoleDetection
	}
	return s.Role
}

func (s *DetectionStrategy) Roles() []string { return []string{s.role()} }

func (s *DetectionStrategy) Run(ctx context.Context, in Input, result *entity.Result) error {
	start := time.Now()
	flags, timing, err := s.inspect(ctx, in, in.Frame.Image, result)
	if err != nil {
		return err
	}
	record(in, result, flags, timing, time.Since(start))
	return nil
}

// inspect ищет объекты на кадре, добавляет их в labels и рисует поверх base
func (s *DetectionStrategy) inspect(ctx context.Context, in Input, base image.Image, result *entity.Result) (entity.Decision, entity.Timing, error) {
	start := time.Now()

	model, loaded, err := in.Registry.Detector(s.role())
	if err != nil {
		return entity.DecisionNone, entity.Timing{}, &entity.PredictionError{Stage: "lookup", Err: err}
	}
	cfg := effective(loaded, in.Configs, s.role())

	img, ops, err := s.prepare(in.Frame.Image, cfg)
	if err != nil {
		return entity.DecisionNone, entity.Timing{}, &entity.PredictionError{Stage: "preprocess", Err: err}
	}
	preprocess := time.Since(start)

	dets, timing, err := model.Predict(ctx, img, cfg.Confidence, ops, cfg.IOU)
	if err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "inference", Err: err}
	}
	if dets == nil {
		dets = &entity.Detections{}
	}
	if timing.Preprocess == 0 {
		timing.Preprocess = preprocess
	}

	postStart := time.Now()
	if dets.InputSpace {
		if err := revertDetections(dets, ops); err != nil {
			return entity.DecisionNone, timing, &entity.PredictionError{Stage: "postprocess", Err: err}
		}
	}

	annotated, err := model.Annotate(base, dets, cfg.Colors)
	if err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "annotate", Err: err}
	}
	result.Update(entity.KeyOutputs, annotated, entity.SubKey(entity.KeyAnnotated))

	h, w := in.Frame.Size()
	if err := addDetections(result, dets, h, w); err != nil {
		return entity.DecisionNone, timing, &entity.PredictionError{Stage: "postprocess", Err: err}
	}
	if timing.Postprocess == 0 {
		timing.Postprocess = time.Since(postStart)
	}

	flags := entity.DecisionNone
	if dets.Len() > 0 {
		flags |= entity.DecisionDefect
	}
	return flags, timing, nil
}

func (s *DetectionStrategy) prepare(img image.Image, cfg entity.ModelConfig) (image.Image, transform.Operators, error) {
	h, w, ok := cfg.InputSize()
	if !ok || s.Processor == nil {
		return img, nil, nil
	}
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img, nil, nil
	}
	if s.Letterbox {
		return s.Processor.Letterbox(img, w, h)
	}
	return s.Processor.Resize(img, w, h)
}

// revertDetections переводит координаты из входа модели в исходный кадр
func revertDetections(dets *entity.Detections, ops transform.Operators) error {
	if err := ops.Validate(); err != nil {
		return fmt.Errorf("revert detections: %w", err)
	}
	for i, box := range dets.Boxes {
		dets.Boxes[i] = transform.RevertBox(box, ops)
	}
	for i, poly := range dets.Polygons {
		rows := make([][]float64, len(poly))
		for j, pt := range poly {
			rows[j] = []float64{pt[0], pt[1]}
		}
		reverted, err := transform.Revert(rows, ops)
		if err != nil {
			return err
		}
		for j, row := range reverted {
			poly[j] = [2]float64{row[0], row[1]}
		}
		dets.Polygons[i] = poly
	}
	for i, points := range dets.Keypoints {
		for j, pt := range points {
			x, y := transform.RevertPoint(pt.X, pt.Y, ops)
			dets.Keypoints[i][j] = entity.Point2d{X: x, Y: y}
		}
	}
	dets.InputSpace = false
	return nil
}

// addDetections добавляет каждый объект в labels: рамку, контур, маску, ключевые точки
func addDetections(result *entity.Result, dets *entity.Detections, h, w int) error {
	for i := 0; i < dets.Len(); i++ {
		label := dets.Classes[i]
		var score float64
		if i < len(dets.Scores) {
			score = dets.Scores[i]
		}

		if i < len(dets.Boxes) {
			b := dets.Boxes[i]
			box := entity.Box{XMin: b[0], YMin: b[1], XMax: b[2], YMax: b[3]}
			if err := result.AddPrediction(entity.KindBoxes, box, score, label, h, w); err != nil {
				return fmt.Errorf("object %d: %w", i, err)
			}
		}
		if i < len(dets.Polygons) && len(dets.Polygons[i]) > 0 {
			poly := entity.Polygon{Points: dets.Polygons[i]}
			if err := result.AddPrediction(entity.KindPolygons, poly, score, label, h, w); err != nil {
				return fmt.Errorf("object %d: %w", i, err)
			}
		}
		if i < len(dets.Masks) && len(dets.Masks[i].Bitmap) > 0 {
			if err := result.AddPrediction(entity.KindMasks, dets.Masks[i], score, label, h, w); err != nil {
				return fmt.Errorf("object %d: %w", i, err)
			}
		}
		if i < len(dets.Keypoints) {
			for _, pt := range dets.Keypoints[i] {
				if err := result.AddPrediction(entity.KindKeypoints, pt, score, label, h, w); err != nil {
					return fmt.Errorf("object %d: %w", i, err)
				}
			}
		}
	}
	return nil
}
