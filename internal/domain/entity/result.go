package entity

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"reflect"
	"slices"
	"sort"
)

// Ключи результата, которые читают потребители
const (
	KeyOutputs        = "outputs"
	KeyAnnotated      = "annotated"
	KeyLabels         = "labels"
	KeyTags           = "tags"
	KeyErrors         = "errors"
	KeyShouldArchive  = "should_archive"
	KeyDecision       = "decision"
	KeyDecisionFlags  = "decision_flags"
	KeyTiming         = "timing"
	KeyAutomationKeys = "automation_keys"
	KeyFactoryKeys    = "factory_keys"
)

// Result результат одного вызова Predict.
// Изменяется только через Update; не переживает вызов.
type Result struct {
	fields         map[string]any
	factoryKeys    []string
	automationKeys []string
	logger         *slog.Logger
}

// NewResult создаёт пустой результат
func NewResult() *Result {
	r := &Result{logger: slog.Default()}
	r.Reset()
	return r
}

// SetLogger логгер для CheckSerializable и предупреждений Update
func (r *Result) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Reset возвращает результат в начальное состояние
func (r *Result) Reset() {
	r.fields = map[string]any{
		KeyOutputs:       map[string]any{KeyAnnotated: nil},
		KeyTags:          []any{},
		KeyErrors:        []any{},
		KeyShouldArchive: false,
	}
	r.factoryKeys = []string{}
	r.automationKeys = []string{}
}

type updateOptions struct {
	subKey       string
	toFactory    bool
	toAutomation bool
	overwrite    bool
}

// UpdateOption настройка Update
type UpdateOption func(*updateOptions)

// SubKey записать значение во вложенный словарь result[key][sub]
func SubKey(sub string) UpdateOption {
	return func(o *updateOptions) { o.subKey = sub }
}

// ToFactory отправить поле потребителю фабрики
func ToFactory() UpdateOption {
	return func(o *updateOptions) { o.toFactory = true }
}

// ToAutomation отправить поле автоматике
func ToAutomation() UpdateOption {
	return func(o *updateOptions) { o.toAutomation = true }
}

// Overwrite заменить список целиком вместо добавления
func Overwrite() UpdateOption {
	return func(o *updateOptions) { o.overwrite = true }
}

// Update единственный путь изменения результата:
//  1. если по key лежит список: добавить value, а с Overwrite заменить поле на value;
//  2. иначе с SubKey: result[key][sub] = value (словарь создаётся при необходимости);
//  3. иначе result[key] = value.
//
// ToFactory/ToAutomation добавляют key в соответствующий набор без повторов.
func (r *Result) Update(key string, value any, opts ...UpdateOption) {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	if key == KeyFactoryKeys || key == KeyAutomationKeys {
		r.logger.Warn("routing keys are managed by update options", "key", key)
		return
	}

	current, exists := r.fields[key]
	seq, isSeq := current.([]any)

	switch {
	case exists && isSeq && !o.overwrite:
		r.fields[key] = append(seq, value)
	case exists && isSeq:
		r.fields[key] = normalize(value)
	case o.subKey != "":
		nested, ok := current.(map[string]any)
		if !ok {
			nested = make(map[string]any)
		}
		nested[o.subKey] = value
		r.fields[key] = nested
	default:
		r.fields[key] = normalize(value)
	}

	if o.toFactory && !slices.Contains(r.factoryKeys, key) {
		r.factoryKeys = append(r.factoryKeys, key)
	}
	if o.toAutomation && !slices.Contains(r.automationKeys, key) {
		r.automationKeys = append(r.automationKeys, key)
	}
}

// normalize приводит срезы к []any, чтобы следующие Update дописывали в них
func normalize(value any) any {
	if value == nil {
		return nil
	}
	if _, ok := value.([]byte); ok {
		return value
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice {
		return value
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

// Get значение поля верхнего уровня
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Keys отсортированные ключи верхнего уровня
func (r *Result) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Outputs копия словаря outputs
func (r *Result) Outputs() map[string]any {
	outputs, _ := r.fields[KeyOutputs].(map[string]any)
	out := make(map[string]any, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}

// Annotated аннотированное изображение или nil
func (r *Result) Annotated() image.Image {
	outputs, _ := r.fields[KeyOutputs].(map[string]any)
	img, _ := outputs[KeyAnnotated].(image.Image)
	return img
}

// Labels набор предсказаний или nil
func (r *Result) Labels() *PredictionSet {
	outputs, _ := r.fields[KeyOutputs].(map[string]any)
	set, _ := outputs[KeyLabels].(*PredictionSet)
	return set
}

// Tags теги для фабрики
func (r *Result) Tags() []string {
	return r.strings(KeyTags)
}

// Errors описания ошибок кадра
func (r *Result) Errors() []string {
	return r.strings(KeyErrors)
}

// ShouldArchive сохранять ли кадр в архив
func (r *Result) ShouldArchive() bool {
	v, _ := r.fields[KeyShouldArchive].(bool)
	return v
}

// Decision флаги решения по кадру
func (r *Result) Decision() Decision {
	v, _ := r.fields[KeyDecisionFlags].(Decision)
	return v
}

// Verdict PASS/FAIL или пустая строка
func (r *Result) Verdict() string {
	v, _ := r.fields[KeyDecision].(string)
	return v
}

// FactoryKeys поля для фабрики в порядке маршрутизации
func (r *Result) FactoryKeys() []string {
	return slices.Clone(r.factoryKeys)
}

// AutomationKeys поля для автоматики в порядке маршрутизации
func (r *Result) AutomationKeys() []string {
	return slices.Clone(r.automationKeys)
}

// FactoryFields подмножество полей, отправляемых фабрике
func (r *Result) FactoryFields() map[string]any {
	return r.subset(r.factoryKeys)
}

// AutomationFields подмножество полей, отправляемых автоматике
func (r *Result) AutomationFields() map[string]any {
	return r.subset(r.automationKeys)
}

func (r *Result) subset(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := r.fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (r *Result) strings(key string) []string {
	switch v := r.fields[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{v}
	default:
		return []string{fmt.Sprint(v)}
	}
}

// CheckSerializable проверяет, что поля кодируются в JSON.
// Без аргументов проверяются все поля. Из outputs проверяется только labels:
// изображение уходит в архив, а не JSON-потребителям.
func (r *Result) CheckSerializable(keys ...string) bool {
	if len(keys) == 0 {
		keys = r.Keys()
	}

	for _, key := range keys {
		value, ok := r.fields[key]
		if !ok {
			continue
		}
		if key == KeyOutputs {
			outputs, _ := value.(map[string]any)
			labels, ok := outputs[KeyLabels]
			if !ok {
				continue
			}
			key, value = KeyOutputs+"."+KeyLabels, labels
		}
		if _, err := json.Marshal(value); err != nil {
			r.logger.Error("result field is not serializable", "key", key, "error", err)
			return false
		}
	}
	return true
}

// MarshalJSON кодирует результат без пикселей аннотированного изображения
func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.fields)+2)
	for k, v := range r.fields {
		out[k] = v
	}
	outputs := r.Outputs()
	delete(outputs, KeyAnnotated)
	out[KeyOutputs] = outputs
	out[KeyFactoryKeys] = r.factoryKeys
	out[KeyAutomationKeys] = r.automationKeys
	return json.Marshal(out)
}

// AddPrediction добавляет предсказание в outputs.labels.
// Первый вызов фиксирует размеры кадра, следующие обязаны с ними совпадать.
func (r *Result) AddPrediction(kind PredictionKind, value AnnotationValue, score float64, label string, imageHeight, imageWidth int) error {
	set := r.Labels()
	if set == nil {
		set = &PredictionSet{
			ImageHeight: imageHeight,
			ImageWidth:  imageWidth,
			Predictions: []Annotation{},
		}
	}

	if err := set.add(kind, value, score, label, imageHeight, imageWidth); err != nil {
		return err
	}

	r.Update(KeyOutputs, set, SubKey(KeyLabels))
	return nil
}
