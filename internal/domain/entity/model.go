package entity

import (
	"sort"
	"strings"
)

// ModelType тип модели из описания роли
type ModelType string

const (
	ModelTypeAnomaly         ModelType = "anomaly_detection"
	ModelTypeObjectDetection ModelType = "object_detection"
	ModelTypeSegmentation    ModelType = "segmentation"
	ModelTypePose            ModelType = "pose"
)

// ModelFamily набор возможностей, к которому относится модель
type ModelFamily string

const (
	FamilyUnknown  ModelFamily = ""
	FamilyAnomaly  ModelFamily = "anomaly"
	FamilyDetector ModelFamily = "detector"
)

// Family возвращает семейство модели или FamilyUnknown
func (t ModelType) Family() ModelFamily {
	switch ModelType(strings.ToLower(string(t))) {
	case ModelTypeAnomaly:
		return FamilyAnomaly
	case ModelTypeObjectDetection, ModelTypeSegmentation, ModelTypePose:
		return FamilyDetector
	}
	return FamilyUnknown
}

// Recognized тип известен реестру
func (t ModelType) Recognized() bool {
	return t.Family() != FamilyUnknown
}

// Tiling параметры нарезки кадра на тайлы
type Tiling struct {
	Rows    int `yaml:"rows" json:"rows"`
	Cols    int `yaml:"cols" json:"cols"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// ModelConfig описание роли модели: путь, размеры, пороги
type ModelConfig struct {
	ModelPath  string              `yaml:"model_path" json:"model_path"`
	ImageSize  []int               `yaml:"image_size" json:"image_size"` // [h, w]
	ModelType  ModelType           `yaml:"model_type" json:"model_type"`
	Confidence map[string]float64  `yaml:"confidence" json:"confidence"`
	IOU        float64             `yaml:"iou" json:"iou"`
	UseFactory bool                `yaml:"use_factory" json:"use_factory"`
	Tiling     *Tiling             `yaml:"tiling,omitempty" json:"tiling,omitempty"`
	Colors     map[string][3]uint8 `yaml:"colors,omitempty" json:"colors,omitempty"`
	ErrThresh  float64             `yaml:"err_threshold" json:"err_threshold"`
	ErrMax     float64             `yaml:"err_max" json:"err_max"`
	ErrSize    float64             `yaml:"err_size" json:"err_size"`
	Extra      map[string]any      `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// InputSize размер входа модели (высота, ширина)
func (c ModelConfig) InputSize() (h, w int, ok bool) {
	if len(c.ImageSize) != 2 || c.ImageSize[0] <= 0 || c.ImageSize[1] <= 0 {
		return 0, 0, false
	}
	return c.ImageSize[0], c.ImageSize[1], true
}

// ConfidenceFor порог уверенности для класса; "default" используется как запасной
func (c ModelConfig) ConfidenceFor(label string) float64 {
	if v, ok := c.Confidence[label]; ok {
		return v
	}
	return c.Confidence["default"]
}

// ModelConfigs описания ролей, ключ это имя роли (например "od_model")
type ModelConfigs map[string]ModelConfig

// Roles отсортированные имена ролей, содержащие filter
func (m ModelConfigs) Roles(filter string) []string {
	roles := make([]string, 0, len(m))
	for role := range m {
		if strings.Contains(role, filter) {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}

// OrderedRoles роли, содержащие filter, в порядке order.
// Роли, которых нет в order, идут следом по алфавиту; имена из order без описания пропускаются.
func (m ModelConfigs) OrderedRoles(filter string, order []string) []string {
	roles := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, role := range order {
		if _, ok := m[role]; !ok || seen[role] || !strings.Contains(role, filter) {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	for _, role := range m.Roles(filter) {
		if !seen[role] {
			roles = append(roles, role)
		}
	}
	return roles
}
