package port

import (
	"context"
	"image"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// FrameProcessor геометрическая предобработка кадра
type FrameProcessor interface {
	// Resize растягивает кадр до width x height
	Resize(img image.Image, width, height int) (image.Image, transform.Operators, error)

	// Letterbox вписывает кадр в width x height с сохранением пропорций и полями
	Letterbox(img image.Image, width, height int) (image.Image, transform.Operators, error)
}

// FrameSource источник кадров. Next возвращает io.EOF, когда кадры закончились.
type FrameSource interface {
	Next(ctx context.Context) (entity.Frame, error)
	Close() error
}
