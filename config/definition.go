package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
)

// Definition описание конвейера: роли моделей и параметры обработки
//
//	models:
//	  od_model:
//	    model_path: /models/od.onnx
//	    model_type: object_detection
//	    image_size: [640, 640]
//	    confidence: {default: 0.5, scratch: 0.3}
//	archive_every: 20
type Definition struct {
	Models       entity.ModelConfigs `yaml:"models"`
	Runtime      entity.ModelConfigs `yaml:"runtime,omitempty"` // пороги для Predict
	ArchiveEvery int                 `yaml:"archive_every"`
	Letterbox    bool                `yaml:"letterbox"`

	// Order роли в порядке объявления под models.
	// Модели загружаются в этом порядке и освобождаются в обратном.
	Order []string `yaml:"-"`
}

// UnmarshalYAML запоминает порядок ключей models
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	type plain Definition
	if err := node.Decode((*plain)(d)); err != nil {
		return err
	}

	d.Order = nil
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value != "models" || value.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			d.Order = append(d.Order, value.Content[j].Value)
		}
	}
	return nil
}

// LoadDefinition читает и проверяет описание конвейера
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition разбирает YAML описание конвейера
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline definition: %w", err)
	}
	return &def, nil
}

// Validate проверяет, что описаны роли и их параметры осмысленны.
// Неизвестный model_type здесь не ошибка: его отвергает загрузка моделей.
func (d *Definition) Validate() error {
	roles := d.Models.Roles("_model")
	if len(roles) == 0 {
		return fmt.Errorf("no model roles (keys ending with _model) under models")
	}
	for _, role := range roles {
		m := d.Models[role]
		if m.ModelPath == "" && !m.UseFactory {
			return fmt.Errorf("%s: model_path is required", role)
		}
		if len(m.ImageSize) != 0 {
			if _, _, ok := m.InputSize(); !ok {
				return fmt.Errorf("%s: image_size must be [height, width], got %v", role, m.ImageSize)
			}
		}
		for label, c := range m.Confidence {
			if c < 0 || c > 1 {
				return fmt.Errorf("%s: confidence for %q must be in [0, 1]", role, label)
			}
		}
		if m.IOU < 0 || m.IOU > 1 {
			return fmt.Errorf("%s: iou must be in [0, 1]", role)
		}
	}
	if d.ArchiveEvery < 0 {
		return fmt.Errorf("archive_every must not be negative")
	}
	return nil
}

// normalizeType model_type из фабрики приходит в произвольном регистре
func normalizeType(t string) entity.ModelType {
	return entity.ModelType(strings.ToLower(strings.TrimSpace(t)))
}
