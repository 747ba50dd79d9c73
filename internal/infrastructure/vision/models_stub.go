//go:build !gocv
// +build !gocv

package vision

import (
	"context"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

// NewAnomalyModel возвращает ошибку, если сборка без тега gocv.
func NewAnomalyModel(ctx context.Context, role string, cfg entity.ModelConfig) (port.AnomalyDetector, error) {
	return nil, ErrGoCVDisabled
}

// NewDetectorModel возвращает ошибку, если сборка без тега gocv.
func NewDetectorModel(ctx context.Context, role string, cfg entity.ModelConfig) (port.ObjectDetector, error) {
	return nil, ErrGoCVDisabled
}
