package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

// Artifact один формат модели (pt, onnx, trt)
type Artifact struct {
	ModelPath string `yaml:"model_path"`
	ImageSize []int  `yaml:"imageSize"`
}

// FactoryDetails неизменяемые сведения об обучении
type FactoryDetails struct {
	PreprocessingSteps []string `yaml:"preprocessing_steps"`
	TrainingPackage    string   `yaml:"trainingPackage"`
	TrainingAlgorithm  string   `yaml:"trainingAlgorithm"`
	BaseModel          string   `yaml:"base_model"`
	DefectClassList    []string `yaml:"defect_class_list"`
}

// FactoryConfigs параметры, которые фабрика меняет на ходу.
// Все ключи кроме thresholdMin/thresholdMax это уверенность по классам.
type FactoryConfigs struct {
	ThresholdMin *float64           `yaml:"thresholdMin"`
	ThresholdMax *float64           `yaml:"thresholdMax"`
	Confidence   map[string]float64 `yaml:",inline"`
}

// FactoryModel описание модели, переданное фабрикой
type FactoryModel struct {
	ModelRole    string              `yaml:"model_role"`
	ModelType    string              `yaml:"model_type"`
	ModelName    string              `yaml:"model_name"`
	ModelVersion string              `yaml:"model_version"`
	Artifacts    map[string]Artifact `yaml:"artifacts"`
	Details      FactoryDetails      `yaml:"details"`
	Configs      FactoryConfigs      `yaml:"configs"`
	Format       string              `yaml:"format"`
}

// ModelConfig приводит описание фабрики к описанию роли.
// Путь и размер берутся из артефакта выбранного формата.
func (m FactoryModel) ModelConfig() entity.ModelConfig {
	cfg := entity.ModelConfig{
		ModelType: normalizeType(m.ModelType),
		Extra: map[string]any{
			"algorithm": strings.ToLower(m.Details.TrainingAlgorithm),
			"package":   strings.ToLower(m.Details.TrainingPackage),
			"name":      m.ModelName,
			"version":   m.ModelVersion,
		},
	}
	if a, ok := m.Artifacts[m.Format]; ok {
		cfg.ModelPath = a.ModelPath
		cfg.ImageSize = a.ImageSize
	}
	if len(m.Configs.Confidence) > 0 {
		cfg.Confidence = m.Configs.Confidence
	}
	if m.Configs.ThresholdMin != nil {
		cfg.ErrThresh = *m.Configs.ThresholdMin
	}
	if m.Configs.ThresholdMax != nil {
		cfg.ErrMax = *m.Configs.ThresholdMax
	}
	return cfg
}

// LoadFactoryModels читает описания фабрики (YAML или JSON) и приводит их
// к описаниям ролей. Пустой путь означает, что фабрика ничего не передала.
func LoadFactoryModels(path string) (entity.ModelConfigs, error) {
	if path == "" {
		return entity.ModelConfigs{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read factory models: %w", err)
	}
	return ParseFactoryModels(data)
}

// ParseFactoryModels разбирает словарь роль -> описание модели.
// Пустые записи пропускаются.
func ParseFactoryModels(data []byte) (entity.ModelConfigs, error) {
	var raw map[string]*FactoryModel
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse factory models: %w", err)
	}

	out := make(entity.ModelConfigs, len(raw))
	for role, m := range raw {
		if m == nil {
			continue
		}
		out[role] = m.ModelConfig()
	}
	return out, nil
}
