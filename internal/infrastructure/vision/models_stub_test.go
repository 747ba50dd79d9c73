//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

func TestModelsWithoutGoCV(t *testing.T) {
	_, err := NewAnomalyModel(context.Background(), "ad_model", entity.ModelConfig{})
	require.ErrorIs(t, err, ErrGoCVDisabled)

	_, err = NewDetectorModel(context.Background(), "od_model", entity.ModelConfig{})
	require.ErrorIs(t, err, ErrGoCVDisabled)
}
