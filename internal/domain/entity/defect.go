package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PredictionKind вид разметки в наборе предсказаний
type PredictionKind string

const (
	KindBoxes     PredictionKind = "boxes"
	KindPolygons  PredictionKind = "polygons"
	KindMasks     PredictionKind = "masks"
	KindKeypoints PredictionKind = "keypoints"
)

var (
	ErrUnknownKind     = errors.New("unknown prediction kind")
	ErrKindMismatch    = errors.New("prediction value does not match kind")
	ErrConfidenceRange = errors.New("confidence must be within [0, 1]")
)

// Valid проверяет, что вид входит в закрытый набор
func (k PredictionKind) Valid() bool {
	switch k {
	case KindBoxes, KindPolygons, KindMasks, KindKeypoints:
		return true
	}
	return false
}

// AnnotationValue геометрия одного экземпляра: Box, Polygon, Mask или Point2d
type AnnotationValue interface {
	PredictionKind() PredictionKind
}

// Box прямоугольник дефекта в координатах исходного кадра
type Box struct {
	XMin  float64 `json:"x_min"`
	YMin  float64 `json:"y_min"`
	XMax  float64 `json:"x_max"`
	YMax  float64 `json:"y_max"`
	Angle float64 `json:"angle"`
}

func (Box) PredictionKind() PredictionKind { return KindBoxes }

// Center возвращает координаты центра рамки
func (b Box) Center() (x, y float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Area площадь рамки без учёта поворота
func (b Box) Area() float64 {
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

// Polygon контур дефекта
type Polygon struct {
	Points [][2]float64 `json:"points"`
}

func (Polygon) PredictionKind() PredictionKind { return KindPolygons }

// Mask бинарная маска размера Width x Height, построчно
type Mask struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bitmap []bool `json:"bitmap"`
}

func (Mask) PredictionKind() PredictionKind { return KindMasks }

// Point2d ключевая точка
type Point2d struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Point2d) PredictionKind() PredictionKind { return KindKeypoints }

// Annotation один найденный экземпляр
type Annotation struct {
	ID         int             `json:"id"`
	Kind       PredictionKind  `json:"type"`
	Value      AnnotationValue `json:"value"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
}

// PredictionSet разметка одного кадра, готовая для сервиса разметки
type PredictionSet struct {
	ImageHeight int          `json:"image_height"`
	ImageWidth  int          `json:"image_width"`
	Predictions []Annotation `json:"predictions"`
}

// Count число предсказаний
func (s *PredictionSet) Count() int {
	return len(s.Predictions)
}

// Labels метки всех предсказаний по порядку
func (s *PredictionSet) Labels() []string {
	out := make([]string, 0, len(s.Predictions))
	for _, p := range s.Predictions {
		out = append(out, p.Label)
	}
	return out
}

// add проверяет размеры кадра и добавляет предсказание с id = текущему количеству
func (s *PredictionSet) add(kind PredictionKind, value AnnotationValue, score float64, label string, imageHeight, imageWidth int) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if value == nil || value.PredictionKind() != kind {
		return fmt.Errorf("%w: kind %q, value %T", ErrKindMismatch, kind, value)
	}
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: %v", ErrConfidenceRange, score)
	}
	if s.ImageHeight != imageHeight || s.ImageWidth != imageWidth {
		return &DimensionMismatchError{
			Want: [2]int{s.ImageHeight, s.ImageWidth},
			Got:  [2]int{imageHeight, imageWidth},
		}
	}

	s.Predictions = append(s.Predictions, Annotation{
		ID:         len(s.Predictions),
		Kind:       kind,
		Value:      value,
		Label:      label,
		Confidence: score,
	})
	return nil
}

// UnmarshalJSON восстанавливает конкретный тип Value по полю type
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int             `json:"id"`
		Kind       PredictionKind  `json:"type"`
		Value      json.RawMessage `json:"value"`
		Label      string          `json:"label"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var value AnnotationValue
	switch raw.Kind {
	case KindBoxes:
		var v Box
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		value = v
	case KindPolygons:
		var v Polygon
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		value = v
	case KindMasks:
		var v Mask
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		value = v
	case KindKeypoints:
		var v Point2d
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		value = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}

	*a = Annotation{ID: raw.ID, Kind: raw.Kind, Value: value, Label: raw.Label, Confidence: raw.Confidence}
	return nil
}
