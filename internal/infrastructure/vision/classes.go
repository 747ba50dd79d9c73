package vision

import (
	"errors"
	"fmt"
)

// ErrGoCVDisabled бинарь собран без тега gocv
var ErrGoCVDisabled = errors.New("gocv build tag is not enabled")

// defaultConfidence порог, если в конфигурации нет ни класса, ни "default"
const defaultConfidence = 0.25

// classNames имена классов из extra.classes; недостающие получают имя class_<id>
func classNames(extra map[string]any) []string {
	raw, ok := extra["classes"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		names = append(names, fmt.Sprint(v))
	}
	return names
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// confidenceFor порог уверенности класса
func confidenceFor(confidence map[string]float64, label string) float64 {
	if v, ok := confidence[label]; ok {
		return v
	}
	if v, ok := confidence["default"]; ok {
		return v
	}
	return defaultConfidence
}

// minConfidence наименьший порог: ниже него кандидаты отбрасываются до NMS
func minConfidence(confidence map[string]float64) float64 {
	lowest := confidenceFor(confidence, "default")
	for _, v := range confidence {
		if v < lowest {
			lowest = v
		}
	}
	return lowest
}

// classColor цвет рамки класса (RGB); по умолчанию зелёный
func classColor(colors map[string][3]uint8, label string) [3]uint8 {
	if c, ok := colors[label]; ok {
		return c
	}
	return [3]uint8{0, 255, 0}
}
