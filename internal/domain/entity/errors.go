package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad фатальная ошибка загрузки моделей
	ErrModelLoad = errors.New("model load failed")

	// ErrInvalidState метод вызван в неподходящем состоянии конвейера
	ErrInvalidState = errors.New("invalid pipeline state")

	// ErrModelNotLoaded роль отсутствует в реестре
	ErrModelNotLoaded = errors.New("model is not loaded")
)

// UnsupportedModelTypeError неизвестный model_type в описании роли
type UnsupportedModelTypeError struct {
	Role      string
	ModelType ModelType
}

func (e *UnsupportedModelTypeError) Error() string {
	return fmt.Sprintf("%s: unsupported model type %q", e.Role, e.ModelType)
}

// Unwrap: неизвестный тип всегда ошибка загрузки
func (e *UnsupportedModelTypeError) Unwrap() error {
	return ErrModelLoad
}

// WarmupError ошибка прогрева модели
type WarmupError struct {
	Role string
	Err  error
}

func (e *WarmupError) Error() string {
	return fmt.Sprintf("warm up %s: %v", e.Role, e.Err)
}

func (e *WarmupError) Unwrap() error {
	return e.Err
}

// PredictionError ошибка обработки одного кадра
type PredictionError struct {
	Stage string
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("predict [%s]: %v", e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError предсказания от кадров разного размера в одном наборе
type DimensionMismatchError struct {
	Want [2]int // высота, ширина набора
	Got  [2]int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image dimensions mismatch: prediction set is %dx%d (h x w), got %dx%d",
		e.Want[0], e.Want[1], e.Got[0], e.Got[1])
}
