package transform

import (
	"fmt"
	"math"
)

// ShapeError точка не является ни парой (x, y), ни рамкой (x1, y1, x2, y2).
type ShapeError struct {
	Index int
	Len   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("point %d: unsupported shape (%d values), expected 2 or 4", e.Index, e.Len)
}

// Apply переводит точки из исходного кадра в пространство модели.
// Необратимая цепочка (нулевые размеры или коэффициенты) отвергается.
func Apply(points [][]float64, ops Operators) ([][]float64, error) {
	if err := ops.Validate(); err != nil {
		return nil, err
	}
	return mapPoints(points, func(x, y float64) (float64, float64) {
		return ApplyPoint(x, y, ops)
	})
}

// Revert возвращает точки из пространства модели в исходный кадр.
// Операции воспроизводятся в обратном порядке.
func Revert(points [][]float64, ops Operators) ([][]float64, error) {
	if err := ops.Validate(); err != nil {
		return nil, err
	}
	return mapPoints(points, func(x, y float64) (float64, float64) {
		return RevertPoint(x, y, ops)
	})
}

// ApplyPoint применяет цепочку к одной точке.
func ApplyPoint(x, y float64, ops Operators) (float64, float64) {
	for _, op := range ops {
		x, y = op.apply(x, y)
	}
	return clamp(x), clamp(y)
}

// RevertPoint обращает цепочку для одной точки.
func RevertPoint(x, y float64, ops Operators) (float64, float64) {
	for i := len(ops) - 1; i >= 0; i-- {
		x, y = ops[i].revert(x, y)
	}
	return clamp(x), clamp(y)
}

// RevertBox обращает рамку [x1, y1, x2, y2].
func RevertBox(box [4]float64, ops Operators) [4]float64 {
	x1, y1 := RevertPoint(box[0], box[1], ops)
	x2, y2 := RevertPoint(box[2], box[3], ops)
	return [4]float64{x1, y1, x2, y2}
}

func mapPoints(points [][]float64, fn func(x, y float64) (float64, float64)) ([][]float64, error) {
	out := make([][]float64, 0, len(points))
	for i, pt := range points {
		switch len(pt) {
		case 0:
			continue
		case 2:
			x, y := fn(pt[0], pt[1])
			out = append(out, []float64{x, y})
		case 4:
			x1, y1 := fn(pt[0], pt[1])
			x2, y2 := fn(pt[2], pt[3])
			out = append(out, []float64{x1, y1, x2, y2})
		default:
			return nil, &ShapeError{Index: i, Len: len(pt)}
		}
	}
	return out, nil
}

// верхнюю границу обрезает вызывающий код
func clamp(v float64) float64 {
	return math.Max(v, 0)
}
