package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port/mock"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/registry"
)

func newFrame(w, h int) entity.Frame {
	return entity.Frame{ID: "frame-1", Image: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// errorMap 2x2 карта, сумма значений равна 5
func errorMap() *entity.ErrorMap {
	return &entity.ErrorMap{Width: 2, Height: 2, Values: []float32{1, 1, 1, 2}}
}

func anomalyPipeline(t *testing.T, model *mock.AnomalyModel, errSize float64, opts ...Option) (*Pipeline, entity.ModelConfigs) {
	t.Helper()
	c := &mock.Constructors{Anomalies: map[string]*mock.AnomalyModel{RoleAnomaly: model}}
	reg := registry.New(registry.Constructors{Anomaly: c.Anomaly, Detector: c.Detector}, logging.Discard())

	configs := entity.ModelConfigs{
		RoleAnomaly: {ModelType: entity.ModelTypeAnomaly, ImageSize: []int{2, 2}, ErrSize: errSize},
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	p := New(reg, &AnomalyStrategy{}, opts...)

	ctx := context.Background()
	require.NoError(t, p.Load(ctx, nil, configs))
	require.NoError(t, p.WarmUp(ctx))
	return p, configs
}

func TestPredict_AnomalyPass(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 10)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))

	require.Empty(t, res.Errors())
	require.Equal(t, entity.VerdictPass, res.Verdict())
	require.Equal(t, []string{entity.VerdictPass}, res.Tags())
	require.Equal(t, entity.DecisionNone, res.Decision())
	require.False(t, res.ShouldArchive())
	require.Contains(t, res.FactoryKeys(), entity.KeyTags)
	require.Contains(t, res.AutomationKeys(), entity.KeyDecision)
	require.NotNil(t, res.Annotated())

	score, ok := res.Get(KeyAnomalyScore)
	require.True(t, ok)
	require.Equal(t, 5.0, score)
	require.Equal(t, entity.StateServing, p.State())
}

func TestPredict_AnomalyFail(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 2)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))

	require.Equal(t, entity.VerdictFail, res.Verdict())
	require.Equal(t, []string{entity.VerdictFail}, res.Tags())
	require.True(t, res.Decision().Has(entity.DecisionAnomaly))
	require.True(t, res.ShouldArchive())
	require.Equal(t, map[string]any{entity.KeyDecision: entity.VerdictFail}, res.AutomationFields())
}

func TestPredict_RuntimeThresholdOverridesLoaded(t *testing.T) {
	p, _ := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 10)

	runtime := entity.ModelConfigs{RoleAnomaly: {ErrSize: 3}}
	res := p.Predict(context.Background(), runtime, newFrame(2, 2))
	require.Equal(t, entity.VerdictFail, res.Verdict())
}

func TestPredict_ErrorEnvelope(t *testing.T) {
	boom := errors.New("inference engine lost")
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{Err: boom}, 10)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))

	require.NotEmpty(t, res.Errors())
	require.Contains(t, res.Errors()[0], boom.Error())
	require.Contains(t, res.Tags(), entity.TagError)
	require.True(t, res.ShouldArchive())
	require.Contains(t, res.FactoryKeys(), entity.KeyErrors)
	require.Contains(t, res.FactoryKeys(), entity.KeyTags)
	require.True(t, res.CheckSerializable(res.FactoryKeys()...))

	// сбой кадра не продвигает конвейер в serving
	require.Equal(t, entity.StateWarmed, p.State())
}

func TestPredict_RecoversPanic(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{Panic: "index out of range"}, 10)

	var res *entity.Result
	require.NotPanics(t, func() {
		res = p.Predict(context.Background(), configs, newFrame(2, 2))
	})
	require.Contains(t, res.Tags(), entity.TagError)
	require.Contains(t, res.Errors()[0], "index out of range")
	require.True(t, res.ShouldArchive())
}

func TestPredict_EmptyFrame(t *testing.T) {
	model := &mock.AnomalyModel{ErrMap: errorMap()}
	p, configs := anomalyPipeline(t, model, 10)

	res := p.Predict(context.Background(), configs, entity.Frame{ID: "empty"})
	require.Contains(t, res.Tags(), entity.TagError)
	require.Equal(t, 0, model.Calls)
}

func TestPredict_BeforeWarmUp(t *testing.T) {
	c := &mock.Constructors{Anomalies: map[string]*mock.AnomalyModel{RoleAnomaly: {}}}
	reg := registry.New(registry.Constructors{Anomaly: c.Anomaly}, logging.Discard())
	p := New(reg, &AnomalyStrategy{}, WithLogger(logging.Discard()))

	res := p.Predict(context.Background(), nil, newFrame(2, 2))
	require.Contains(t, res.Tags(), entity.TagError)
	require.Contains(t, res.Errors()[0], entity.ErrInvalidState.Error())
	require.Equal(t, entity.StateUnloaded, p.State())
}

func TestPredict_ArchiveEvery(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 10, WithArchiveEvery(3))
	ctx := context.Background()

	var archived []bool
	for i := 0; i < 6; i++ {
		archived = append(archived, p.Predict(ctx, configs, newFrame(2, 2)).ShouldArchive())
	}
	require.Equal(t, []bool{false, false, true, false, false, true}, archived)
}

func TestPreview_KeepsFrameIndexAndState(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 10, WithArchiveEvery(2))
	ctx := context.Background()

	res := p.Preview(ctx, configs, newFrame(2, 2))
	require.Empty(t, res.Errors())
	require.Equal(t, entity.VerdictPass, res.Verdict())
	require.False(t, res.ShouldArchive())
	require.Equal(t, entity.StateWarmed, p.State())

	var archived []bool
	for i := 0; i < 4; i++ {
		archived = append(archived, p.Predict(ctx, configs, newFrame(2, 2)).ShouldArchive())
		p.Preview(ctx, configs, newFrame(2, 2))
	}
	require.Equal(t, []bool{false, true, false, true}, archived)
}

func TestPredict_Timing(t *testing.T) {
	p, configs := anomalyPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, 10)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))
	timing, ok := res.FactoryFields()[entity.KeyTiming].(map[string]float64)
	require.True(t, ok)
	require.Contains(t, timing, "inference")
	require.Contains(t, timing, "total")
}

func TestLifecycle(t *testing.T) {
	journal := &mock.Journal{}
	model := &mock.AnomalyModel{Name: "ad", Journal: journal}
	c := &mock.Constructors{Anomalies: map[string]*mock.AnomalyModel{RoleAnomaly: model}}
	reg := registry.New(registry.Constructors{Anomaly: c.Anomaly}, logging.Discard())
	p := New(reg, &AnomalyStrategy{}, WithLogger(logging.Discard()))
	ctx := context.Background()
	configs := entity.ModelConfigs{RoleAnomaly: {ModelType: entity.ModelTypeAnomaly}}

	require.ErrorIs(t, p.WarmUp(ctx), entity.ErrInvalidState)

	require.NoError(t, p.Load(ctx, nil, configs))
	require.Equal(t, entity.StateLoaded, p.State())
	require.ErrorIs(t, p.Load(ctx, nil, configs), entity.ErrInvalidState)

	require.NoError(t, p.WarmUp(ctx))
	require.Equal(t, entity.StateWarmed, p.State())

	require.NoError(t, p.CleanUp(ctx))
	require.Equal(t, entity.StateCleaned, p.State())
	require.Equal(t, 0, p.Registry().Len())
	require.Equal(t, []string{"warmup:ad", "close:ad"}, journal.Events())

	// после очистки конвейер можно загрузить заново
	require.NoError(t, p.Load(ctx, nil, configs))
	require.Equal(t, entity.StateLoaded, p.State())
}

func TestLoad_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported model type", func(t *testing.T) {
		reg := registry.New(registry.Constructors{}, logging.Discard())
		p := New(reg, &AnomalyStrategy{}, WithLogger(logging.Discard()))

		err := p.Load(ctx, nil, entity.ModelConfigs{RoleAnomaly: {ModelType: "ocr"}})
		var unsupported *entity.UnsupportedModelTypeError
		require.True(t, errors.As(err, &unsupported))
		require.ErrorIs(t, err, entity.ErrModelLoad)
		require.Equal(t, entity.StateUnloaded, p.State())
	})

	t.Run("strategy role missing", func(t *testing.T) {
		model := &mock.DetectorModel{}
		c := &mock.Constructors{Detectors: map[string]*mock.DetectorModel{"seg_model": model}}
		reg := registry.New(registry.Constructors{Detector: c.Detector}, logging.Discard())
		p := New(reg, &DetectionStrategy{}, WithLogger(logging.Discard()))

		err := p.Load(ctx, nil, entity.ModelConfigs{"seg_model": {ModelType: entity.ModelTypeSegmentation}})
		require.ErrorIs(t, err, entity.ErrModelLoad)
		require.ErrorIs(t, err, entity.ErrModelNotLoaded)
		require.True(t, model.Closed)
		require.Equal(t, 0, reg.Len())
	})
}

func TestWarmUp_FailureIsFatal(t *testing.T) {
	boom := errors.New("no device")
	c := &mock.Constructors{Anomalies: map[string]*mock.AnomalyModel{RoleAnomaly: {WarmErr: boom}}}
	reg := registry.New(registry.Constructors{Anomaly: c.Anomaly}, logging.Discard())
	p := New(reg, &AnomalyStrategy{}, WithLogger(logging.Discard()))
	ctx := context.Background()

	require.NoError(t, p.Load(ctx, nil, entity.ModelConfigs{RoleAnomaly: {ModelType: entity.ModelTypeAnomaly}}))

	err := p.WarmUp(ctx)
	var warmErr *entity.WarmupError
	require.True(t, errors.As(err, &warmErr))
	require.Equal(t, entity.StateLoaded, p.State())
}
