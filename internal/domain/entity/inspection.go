package entity

import (
	"image"
	"time"
)

// Frame кадр с сенсора
type Frame struct {
	ID         string
	Source     string      // имя файла или топик сенсора
	Image      image.Image // пиксели кадра
	CapturedAt time.Time
}

// Size возвращает высоту и ширину кадра
func (f Frame) Size() (h, w int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dy(), b.Dx()
}

// Empty кадр без пикселей
func (f Frame) Empty() bool {
	h, w := f.Size()
	return h == 0 || w == 0
}

// ErrorMap карта ошибок реконструкции детектора аномалий, построчно
type ErrorMap struct {
	Width  int
	Height int
	Values []float32
}

// At значение в точке (x, y)
func (m *ErrorMap) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// SumAbove сумма значений, превышающих порог
func (m *ErrorMap) SumAbove(threshold float64) float64 {
	var sum float64
	for _, v := range m.Values {
		if float64(v) > threshold {
			sum += float64(v)
		}
	}
	return sum
}

// Max максимальное значение карты
func (m *ErrorMap) Max() float64 {
	var max float64
	for i, v := range m.Values {
		if i == 0 || float64(v) > max {
			max = float64(v)
		}
	}
	return max
}

// Detections результат детектора. Срезы выровнены по индексу с Scores/Classes.
type Detections struct {
	Boxes     [][4]float64   // x1, y1, x2, y2
	Polygons  [][][2]float64 // контуры для сегментации, может быть пустым
	Masks     []Mask         // маски для сегментации, может быть пустым
	Keypoints [][]Point2d    // ключевые точки для pose, может быть пустым
	Scores    []float64
	Classes   []string

	// InputSpace координаты ещё в пространстве входа модели
	InputSpace bool
}

// Len число найденных объектов
func (d *Detections) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Classes)
}

// Timing длительности этапов обработки кадра
type Timing struct {
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
}

// Add суммирует этапы двух моделей
func (t Timing) Add(o Timing) Timing {
	return Timing{
		Preprocess:  t.Preprocess + o.Preprocess,
		Inference:   t.Inference + o.Inference,
		Postprocess: t.Postprocess + o.Postprocess,
	}
}

// Seconds представление для отчёта фабрике
func (t Timing) Seconds() map[string]float64 {
	return map[string]float64{
		"preprocess":  t.Preprocess.Seconds(),
		"inference":   t.Inference.Seconds(),
		"postprocess": t.Postprocess.Seconds(),
	}
}
