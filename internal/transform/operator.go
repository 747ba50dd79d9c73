// Package transform переводит координаты между пространством исходного кадра
// и пространством входа модели.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind тип геометрической операции
type Kind string

const (
	KindResize  Kind = "resize"
	KindPad     Kind = "pad"
	KindStretch Kind = "stretch"
)

// Operator один шаг предобработки кадра.
// Реализации: Resize, Pad, Stretch.
type Operator interface {
	Kind() Kind
	apply(x, y float64) (float64, float64)
	revert(x, y float64) (float64, float64)
}

// Resize масштабирование из OrigW x OrigH в TargetW x TargetH.
type Resize struct {
	TargetW, TargetH float64
	OrigW, OrigH     float64
}

func (Resize) Kind() Kind { return KindResize }

func (r Resize) ratio() (float64, float64) {
	return r.TargetW / r.OrigW, r.TargetH / r.OrigH
}

func (r Resize) apply(x, y float64) (float64, float64) {
	rx, ry := r.ratio()
	return x * rx, y * ry
}

func (r Resize) revert(x, y float64) (float64, float64) {
	rx, ry := r.ratio()
	return x / rx, y / ry
}

// Pad добавление полей. Отрицательные значения означают обрезку.
type Pad struct {
	Left, Right, Top, Bottom float64
}

func (Pad) Kind() Kind { return KindPad }

func (p Pad) apply(x, y float64) (float64, float64) {
	return x + p.Left, y + p.Top
}

func (p Pad) revert(x, y float64) (float64, float64) {
	return x - p.Left, y - p.Top
}

// Stretch растяжение по осям.
type Stretch struct {
	RatioX, RatioY float64
}

func (Stretch) Kind() Kind { return KindStretch }

func (s Stretch) apply(x, y float64) (float64, float64) {
	return x * s.RatioX, y * s.RatioY
}

func (s Stretch) revert(x, y float64) (float64, float64) {
	return x / s.RatioX, y / s.RatioY
}

// Operators цепочка операций в порядке применения.
type Operators []Operator

// Validate проверяет, что операции обратимы.
func (ops Operators) Validate() error {
	for i, op := range ops {
		switch o := op.(type) {
		case Resize:
			if o.TargetW <= 0 || o.TargetH <= 0 || o.OrigW <= 0 || o.OrigH <= 0 {
				return fmt.Errorf("operator %d: resize sizes must be positive", i)
			}
		case Stretch:
			if o.RatioX == 0 || o.RatioY == 0 {
				return fmt.Errorf("operator %d: stretch ratio must be non-zero", i)
			}
		case Pad:
		case nil:
			return fmt.Errorf("operator %d: nil operator", i)
		default:
			return fmt.Errorf("operator %d: unsupported operator %T", i, op)
		}
	}
	return nil
}

// MarshalJSON кодирует цепочку в формате [{"resize":[tw,th,ow,oh]}, {"pad":[l,r,t,b]}, ...].
func (ops Operators) MarshalJSON() ([]byte, error) {
	out := make([]map[Kind][]float64, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case Resize:
			out = append(out, map[Kind][]float64{KindResize: {o.TargetW, o.TargetH, o.OrigW, o.OrigH}})
		case Pad:
			out = append(out, map[Kind][]float64{KindPad: {o.Left, o.Right, o.Top, o.Bottom}})
		case Stretch:
			out = append(out, map[Kind][]float64{KindStretch: {o.RatioX, o.RatioY}})
		default:
			return nil, fmt.Errorf("unsupported operator %T", op)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON разбирает формат MarshalJSON.
func (ops *Operators) UnmarshalJSON(data []byte) error {
	var raw []map[Kind][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed := make(Operators, 0, len(raw))
	for i, item := range raw {
		if len(item) != 1 {
			return fmt.Errorf("operator %d: expected exactly one kind, got %d", i, len(item))
		}
		for kind, v := range item {
			op, err := fromValues(kind, v)
			if err != nil {
				return fmt.Errorf("operator %d: %w", i, err)
			}
			parsed = append(parsed, op)
		}
	}
	*ops = parsed
	return nil
}

func fromValues(kind Kind, v []float64) (Operator, error) {
	switch kind {
	case KindResize:
		if len(v) != 4 {
			return nil, errors.New("resize expects 4 values")
		}
		return Resize{TargetW: v[0], TargetH: v[1], OrigW: v[2], OrigH: v[3]}, nil
	case KindPad:
		if len(v) != 4 {
			return nil, errors.New("pad expects 4 values")
		}
		return Pad{Left: v[0], Right: v[1], Top: v[2], Bottom: v[3]}, nil
	case KindStretch:
		if len(v) != 2 {
			return nil, errors.New("stretch expects 2 values")
		}
		return Stretch{RatioX: v[0], RatioY: v[1]}, nil
	default:
		return nil, fmt.Errorf("unknown operator kind %q", kind)
	}
}
