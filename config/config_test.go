package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

const definitionYAML = `
models:
  od_model:
    model_path: /models/od.onnx
    model_type: object_detection
    image_size: [480, 640]
    iou: 0.45
    use_factory: true
    confidence:
      default: 0.5
      scratch: 0.3
    colors:
      scratch: [255, 0, 0]
    tiling: {rows: 2, cols: 2, overlap: 32}
archive_every: 20
letterbox: true
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(definitionYAML))
	require.NoError(t, err)

	require.Equal(t, 20, def.ArchiveEvery)
	require.True(t, def.Letterbox)

	od, ok := def.Models["od_model"]
	require.True(t, ok)
	require.Equal(t, entity.ModelTypeObjectDetection, od.ModelType)
	require.Equal(t, []int{480, 640}, od.ImageSize)
	require.Equal(t, 0.3, od.ConfidenceFor("scratch"))
	require.Equal(t, 0.5, od.ConfidenceFor("dent"))
	require.Equal(t, [3]uint8{255, 0, 0}, od.Colors["scratch"])
	require.Equal(t, &entity.Tiling{Rows: 2, Cols: 2, Overlap: 32}, od.Tiling)
	require.True(t, od.UseFactory)
}

func TestParseDefinition_KeepsDeclaredOrder(t *testing.T) {
	def, err := ParseDefinition([]byte(`
models:
  od_model:
    model_path: /models/od.onnx
    model_type: object_detection
  ad_model:
    model_path: /models/reference.png
    model_type: anomaly_detection
  seg_model:
    model_path: /models/seg.onnx
    model_type: segmentation
`))
	require.NoError(t, err)
	require.Equal(t, []string{"od_model", "ad_model", "seg_model"}, def.Order)
	require.Equal(t, []string{"od_model", "ad_model", "seg_model"}, def.Models.OrderedRoles("_model", def.Order))
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no roles", yaml: "models: {}\n"},
		{name: "missing path", yaml: "models:\n  od_model:\n    model_type: pose\n"},
		{name: "bad image size", yaml: "models:\n  od_model:\n    model_path: a\n    image_size: [640]\n"},
		{name: "confidence out of range", yaml: "models:\n  od_model:\n    model_path: a\n    confidence: {default: 2}\n"},
		{name: "negative archive_every", yaml: "models:\n  od_model:\n    model_path: a\narchive_every: -1\n"},
		{name: "not yaml", yaml: "models: [\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

const factoryJSON = `{
  "od_model": {
    "model_role": "od_model",
    "model_type": "Object_Detection",
    "model_name": "scratches",
    "model_version": "7",
    "format": "trt",
    "artifacts": {
      "onnx": {"model_path": "/models/od.onnx", "imageSize": [640, 640]},
      "trt": {"model_path": "/models/od.engine", "imageSize": [512, 512]}
    },
    "details": {"trainingPackage": "Ultralytics", "trainingAlgorithm": "YOLOv8"},
    "configs": {"thresholdMin": 0.1, "thresholdMax": 0.9, "scratch": 0.35}
  },
  "ad_model": null
}`

func TestParseFactoryModels(t *testing.T) {
	models, err := ParseFactoryModels([]byte(factoryJSON))
	require.NoError(t, err)
	require.Len(t, models, 1)

	od := models["od_model"]
	require.Equal(t, "/models/od.engine", od.ModelPath)
	require.Equal(t, []int{512, 512}, od.ImageSize)
	require.Equal(t, entity.ModelTypeObjectDetection, od.ModelType)
	require.True(t, od.ModelType.Recognized())
	require.Equal(t, map[string]float64{"scratch": 0.35}, od.Confidence)
	require.Equal(t, 0.1, od.ErrThresh)
	require.Equal(t, 0.9, od.ErrMax)
	require.Equal(t, "yolov8", od.Extra["algorithm"])
	require.Equal(t, "ultralytics", od.Extra["package"])
	require.Nil(t, od.Tiling)
}

func TestFactoryModel_UnknownFormat(t *testing.T) {
	m := FactoryModel{ModelType: "pose", Format: "tflite", Artifacts: map[string]Artifact{
		"onnx": {ModelPath: "/m.onnx"},
	}}
	cfg := m.ModelConfig()
	require.Empty(t, cfg.ModelPath)
	require.Empty(t, cfg.ImageSize)
}

func TestLoadFactoryModels_EmptyPath(t *testing.T) {
	models, err := LoadFactoryModels("")
	require.NoError(t, err)
	require.Empty(t, models)
}

func TestLoadDefinition_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionYAML), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	require.Len(t, def.Models.Roles("_model"), 1)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PIPELINE_DEF", "/etc/gadget/pipeline.yaml")
	t.Setenv("ARCHIVE_EVERY", "5")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("MQTT_PREFIX", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/etc/gadget/pipeline.yaml", cfg.PipelineDef)
	require.Equal(t, 5, cfg.ArchiveEvery)
	require.Equal(t, "gadget", cfg.MQTTPrefix)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("ARCHIVE_EVERY", "often")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("ARCHIVE_EVERY", "")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err = Load()
	require.Error(t, err)
}
