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
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

func detectionPipeline(t *testing.T, model *mock.DetectorModel, cfg entity.ModelConfig) (*Pipeline, entity.ModelConfigs) {
	t.Helper()
	c := &mock.Constructors{Detectors: map[string]*mock.DetectorModel{RoleDetection: model}}
	reg := registry.New(registry.Constructors{Detector: c.Detector}, logging.Discard())

	configs := entity.ModelConfigs{RoleDetection: cfg}
	p := New(reg, &DetectionStrategy{Processor: mock.FrameProcessor{}}, WithLogger(logging.Discard()))

	ctx := context.Background()
	require.NoError(t, p.Load(ctx, nil, configs))
	require.NoError(t, p.WarmUp(ctx))
	return p, configs
}

func TestDetection_NothingFoundPasses(t *testing.T) {
	model := &mock.DetectorModel{}
	p, configs := detectionPipeline(t, model, entity.ModelConfig{
		ModelType:  entity.ModelTypeObjectDetection,
		ImageSize:  []int{100, 100},
		Confidence: map[string]float64{"default": 0.5},
		IOU:        0.4,
	})

	res := p.Predict(context.Background(), configs, newFrame(200, 100))

	require.Empty(t, res.Errors())
	require.Equal(t, entity.VerdictPass, res.Verdict())
	require.Nil(t, res.Labels())
	require.Equal(t, 0.4, model.LastIOU)
	require.Equal(t, transform.Operators{
		transform.Resize{TargetW: 100, TargetH: 100, OrigW: 200, OrigH: 100},
	}, model.LastOps)
}

func TestDetection_RevertsInputSpaceCoordinates(t *testing.T) {
	model := &mock.DetectorModel{Dets: &entity.Detections{
		Boxes:      [][4]float64{{10, 10, 50, 30}},
		Polygons:   [][][2]float64{{{10, 10}, {50, 10}, {50, 30}}},
		Keypoints:  [][]entity.Point2d{{{X: 20, Y: 20}}},
		Scores:     []float64{0.9},
		Classes:    []string{"scratch"},
		InputSpace: true,
	}}
	p, configs := detectionPipeline(t, model, entity.ModelConfig{
		ModelType: entity.ModelTypePose,
		ImageSize: []int{100, 100},
	})

	res := p.Predict(context.Background(), configs, newFrame(200, 100))

	require.Empty(t, res.Errors())
	require.Equal(t, entity.VerdictFail, res.Verdict())
	require.True(t, res.Decision().Has(entity.DecisionDefect))
	require.True(t, res.ShouldArchive())

	set := res.Labels()
	require.NotNil(t, set)
	require.Equal(t, 100, set.ImageHeight)
	require.Equal(t, 200, set.ImageWidth)
	require.Equal(t, 3, set.Count())

	box, ok := set.Predictions[0].Value.(entity.Box)
	require.True(t, ok)
	require.Equal(t, entity.Box{XMin: 20, YMin: 10, XMax: 100, YMax: 30}, box)

	poly, ok := set.Predictions[1].Value.(entity.Polygon)
	require.True(t, ok)
	require.Equal(t, [2]float64{100, 30}, poly.Points[2])

	pt, ok := set.Predictions[2].Value.(entity.Point2d)
	require.True(t, ok)
	require.Equal(t, entity.Point2d{X: 40, Y: 20}, pt)
}

func TestDetection_SkipsResizeWhenSizesMatch(t *testing.T) {
	model := &mock.DetectorModel{}
	p, configs := detectionPipeline(t, model, entity.ModelConfig{
		ModelType: entity.ModelTypeObjectDetection,
		ImageSize: []int{64, 64},
	})

	p.Predict(context.Background(), configs, newFrame(64, 64))
	require.Empty(t, model.LastOps)
}

func TestSelect(t *testing.T) {
	s, err := Select(entity.ModelConfigs{
		"ad_model": {ModelType: entity.ModelTypeAnomaly},
		"od_model": {ModelType: entity.ModelTypeObjectDetection},
	}, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, "combined", s.Name())
	require.Equal(t, []string{"ad_model", "od_model"}, s.Roles())

	s, err = Select(entity.ModelConfigs{"ad_model": {ModelType: entity.ModelTypeAnomaly}}, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, "anomaly", s.Name())

	s, err = Select(entity.ModelConfigs{"seg_model": {ModelType: entity.ModelTypeSegmentation}}, nil, mock.FrameProcessor{}, true)
	require.NoError(t, err)
	require.Equal(t, "detection", s.Name())
	require.Equal(t, []string{"seg_model"}, s.Roles())

	_, err = Select(entity.ModelConfigs{"x_model": {ModelType: "ocr"}}, nil, nil, false)
	require.ErrorIs(t, err, entity.ErrModelLoad)
}

func TestSelect_FirstDeclaredDetector(t *testing.T) {
	configs := entity.ModelConfigs{
		"od_model":  {ModelType: entity.ModelTypeObjectDetection},
		"seg_model": {ModelType: entity.ModelTypeSegmentation},
	}

	s, err := Select(configs, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, []string{"od_model"}, s.Roles())

	s, err = Select(configs, []string{"seg_model", "od_model"}, nil, false)
	require.NoError(t, err)
	require.Equal(t, []string{"seg_model"}, s.Roles())
}

func combinedPipeline(t *testing.T, ad *mock.AnomalyModel, od *mock.DetectorModel, errSize float64) (*Pipeline, entity.ModelConfigs) {
	t.Helper()
	c := &mock.Constructors{
		Anomalies: map[string]*mock.AnomalyModel{RoleAnomaly: ad},
		Detectors: map[string]*mock.DetectorModel{RoleDetection: od},
	}
	reg := registry.New(registry.Constructors{Anomaly: c.Anomaly, Detector: c.Detector}, logging.Discard())

	configs := entity.ModelConfigs{
		RoleDetection: {ModelType: entity.ModelTypeObjectDetection},
		RoleAnomaly:   {ModelType: entity.ModelTypeAnomaly, ErrSize: errSize},
	}
	order := []string{RoleDetection, RoleAnomaly}
	strategy, err := Select(configs, order, mock.FrameProcessor{}, false)
	require.NoError(t, err)

	p := New(reg, strategy, WithLogger(logging.Discard()), WithRoleOrder(order))
	ctx := context.Background()
	require.NoError(t, p.Load(ctx, nil, configs))
	require.NoError(t, p.WarmUp(ctx))
	return p, configs
}

func TestCombined_AnomalyAndDefectGiveBoth(t *testing.T) {
	heat := image.NewRGBA(image.Rect(0, 0, 2, 2))
	ad := &mock.AnomalyModel{ErrMap: errorMap(), Annotated: heat}
	od := &mock.DetectorModel{Dets: &entity.Detections{
		Boxes:   [][4]float64{{0, 0, 1, 1}},
		Scores:  []float64{0.7},
		Classes: []string{"dent"},
	}}
	p, configs := combinedPipeline(t, ad, od, 2)

	require.Equal(t, "combined", p.Strategy())
	require.Equal(t, []string{RoleDetection, RoleAnomaly}, p.Registry().Roles())

	res := p.Predict(context.Background(), configs, newFrame(2, 2))

	require.Empty(t, res.Errors())
	require.Equal(t, 1, ad.Calls)
	require.Equal(t, 1, od.Calls)
	require.Equal(t, entity.DecisionBoth, res.Decision())
	require.Equal(t, entity.VerdictFail, res.Verdict())
	require.True(t, res.ShouldArchive())

	require.Same(t, heat, od.Base)
	require.NotNil(t, res.Labels())
	require.Equal(t, []string{"dent"}, res.Labels().Labels())
	score, ok := res.Get(KeyAnomalyScore)
	require.True(t, ok)
	require.Equal(t, 5.0, score)
}

func TestCombined_SingleFlag(t *testing.T) {
	ad := &mock.AnomalyModel{ErrMap: errorMap()}
	p, configs := combinedPipeline(t, ad, &mock.DetectorModel{}, 10)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))
	require.Equal(t, entity.DecisionNone, res.Decision())
	require.Equal(t, entity.VerdictPass, res.Verdict())

	ad.ErrMap = &entity.ErrorMap{Width: 2, Height: 2, Values: []float32{5, 5, 5, 5}}
	res = p.Predict(context.Background(), configs, newFrame(2, 2))
	require.Equal(t, entity.DecisionAnomaly, res.Decision())
	require.Nil(t, res.Labels())
}

func TestCombined_DetectorFailureIsFrameError(t *testing.T) {
	od := &mock.DetectorModel{Err: errors.New("onnx runtime gone")}
	p, configs := combinedPipeline(t, &mock.AnomalyModel{ErrMap: errorMap()}, od, 10)

	res := p.Predict(context.Background(), configs, newFrame(2, 2))
	require.Contains(t, res.Tags(), entity.TagError)
	require.Len(t, res.Errors(), 1)
	require.Contains(t, res.Errors()[0], "onnx runtime gone")
	require.Empty(t, res.Verdict())
}

func TestDetection_RejectsIrreversibleOperators(t *testing.T) {
	model := &mock.DetectorModel{Dets: &entity.Detections{
		Boxes:      [][4]float64{{10, 10, 50, 30}},
		Scores:     []float64{0.9},
		Classes:    []string{"scratch"},
		InputSpace: true,
	}}
	c := &mock.Constructors{Detectors: map[string]*mock.DetectorModel{RoleDetection: model}}
	reg := registry.New(registry.Constructors{Detector: c.Detector}, logging.Discard())
	processor := mock.FrameProcessor{Ops: transform.Operators{
		transform.Resize{TargetW: 100, TargetH: 100, OrigW: 0, OrigH: 100},
	}}
	configs := entity.ModelConfigs{RoleDetection: {ModelType: entity.ModelTypeObjectDetection, ImageSize: []int{100, 100}}}

	p := New(reg, &DetectionStrategy{Processor: processor}, WithLogger(logging.Discard()))
	ctx := context.Background()
	require.NoError(t, p.Load(ctx, nil, configs))
	require.NoError(t, p.WarmUp(ctx))

	res := p.Predict(ctx, configs, newFrame(200, 100))
	require.Contains(t, res.Tags(), entity.TagError)
	require.Nil(t, res.Labels())
	require.Contains(t, res.Errors()[0], "postprocess")
}

func TestEffective(t *testing.T) {
	loaded := entity.ModelConfig{ImageSize: []int{10, 10}, ErrSize: 5, IOU: 0.5}
	cfg := effective(loaded, entity.ModelConfigs{"r": {ErrSize: 1, ImageSize: []int{1, 1}}}, "r")
	require.Equal(t, 1.0, cfg.ErrSize)
	require.Equal(t, 0.5, cfg.IOU)
	require.Equal(t, []int{10, 10}, cfg.ImageSize)

	require.Equal(t, loaded, effective(loaded, nil, "r"))
}
