package port

import (
	"context"
	"image"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// Model общий контракт модели в реестре
type Model interface {
	// Warmup прогоняет модель на пустом входе размера inputSize (высота, ширина)
	Warmup(ctx context.Context, inputSize [2]int) error

	// Close освобождает ресурсы модели (GPU контекст, сессия)
	Close() error
}

// AnomalyDetector модель семейства детекторов аномалий
type AnomalyDetector interface {
	Model

	// Predict возвращает карту ошибок того же размера, что и кадр
	Predict(ctx context.Context, img image.Image) (*entity.ErrorMap, error)

	// Annotate накладывает карту ошибок на кадр
	Annotate(img image.Image, errMap *entity.ErrorMap, threshold, max float64) (image.Image, error)
}

// ObjectDetector модель семейства детекторов объектов, сегментации и pose
type ObjectDetector interface {
	Model

	// Predict запускает модель на подготовленном кадре.
	// ops описывают предобработку; модель может вернуть координаты в исходном кадре
	// или оставить их во входном пространстве (Detections.InputSpace).
	Predict(ctx context.Context, img image.Image, confidence map[string]float64, ops transform.Operators, iou float64) (*entity.Detections, entity.Timing, error)

	// Annotate рисует найденные объекты на исходном кадре
	Annotate(img image.Image, dets *entity.Detections, colors map[string][3]uint8) (image.Image, error)
}
