// Package mock содержит тестовые реализации портов.
package mock

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// Journal общий журнал вызовов нескольких моделей
type Journal struct {
	mu     sync.Mutex
	events []string
}

func (j *Journal) record(event string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.events = append(j.events, event)
	j.mu.Unlock()
}

// Events копия журнала
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// AnomalyModel детектор аномалий с заданной картой ошибок
type AnomalyModel struct {
	Name      string
	Journal   *Journal
	ErrMap    *entity.ErrorMap
	Annotated image.Image // возвращается из Annotate, если задан
	Err       error
	Panic     any
	WarmErr   error
	CloseErr  error

	Warmups int
	Calls   int
	Closed  bool
}

func (m *AnomalyModel) Warmup(ctx context.Context, inputSize [2]int) error {
	m.Warmups++
	m.Journal.record("warmup:" + m.Name)
	return m.WarmErr
}

func (m *AnomalyModel) Close() error {
	m.Closed = true
	m.Journal.record("close:" + m.Name)
	return m.CloseErr
}

func (m *AnomalyModel) Predict(ctx context.Context, img image.Image) (*entity.ErrorMap, error) {
	m.Calls++
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.ErrMap != nil {
		return m.ErrMap, nil
	}
	b := img.Bounds()
	return &entity.ErrorMap{Width: b.Dx(), Height: b.Dy(), Values: make([]float32, b.Dx()*b.Dy())}, nil
}

func (m *AnomalyModel) Annotate(img image.Image, errMap *entity.ErrorMap, threshold, max float64) (image.Image, error) {
	if m.Annotated != nil {
		return m.Annotated, nil
	}
	return img, nil
}

// DetectorModel детектор объектов с заданным результатом
type DetectorModel struct {
	Name     string
	Journal  *Journal
	Dets     *entity.Detections
	Err      error
	Panic    any
	WarmErr  error
	CloseErr error

	Warmups int
	Calls   int
	Closed  bool
	LastOps transform.Operators
	LastIOU float64
	Base    image.Image // изображение, переданное в Annotate
}

func (m *DetectorModel) Warmup(ctx context.Context, inputSize [2]int) error {
	m.Warmups++
	m.Journal.record("warmup:" + m.Name)
	return m.WarmErr
}

func (m *DetectorModel) Close() error {
	m.Closed = true
	m.Journal.record("close:" + m.Name)
	return m.CloseErr
}

func (m *DetectorModel) Predict(ctx context.Context, img image.Image, confidence map[string]float64, ops transform.Operators, iou float64) (*entity.Detections, entity.Timing, error) {
	m.Calls++
	m.LastOps = ops
	m.LastIOU = iou
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, entity.Timing{}, m.Err
	}
	if m.Dets == nil {
		return &entity.Detections{}, entity.Timing{}, nil
	}
	return m.Dets, entity.Timing{}, nil
}

func (m *DetectorModel) Annotate(img image.Image, dets *entity.Detections, colors map[string][3]uint8) (image.Image, error) {
	m.Base = img
	return img, nil
}

// Constructors выдаёт заранее созданные модели по имени роли
type Constructors struct {
	Anomalies map[string]*AnomalyModel
	Detectors map[string]*DetectorModel
	Err       error
}

// Anomaly конструктор для registry.Constructors
func (c *Constructors) Anomaly(ctx context.Context, role string, cfg entity.ModelConfig) (port.AnomalyDetector, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	m, ok := c.Anomalies[role]
	if !ok {
		return nil, errors.New("no anomaly model for role " + role)
	}
	return m, nil
}

// Detector конструктор для registry.Constructors
func (c *Constructors) Detector(ctx context.Context, role string, cfg entity.ModelConfig) (port.ObjectDetector, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	m, ok := c.Detectors[role]
	if !ok {
		return nil, errors.New("no detector model for role " + role)
	}
	return m, nil
}

// AutomationSink запоминает отправленные решения
type AutomationSink struct {
	mu       sync.Mutex
	Err      error
	Sent     []entity.Decision
	Fields   []map[string]any
	FrameIDs []string
}

func (s *AutomationSink) SendDecision(ctx context.Context, frameID string, decision entity.Decision, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, decision)
	s.Fields = append(s.Fields, fields)
	s.FrameIDs = append(s.FrameIDs, frameID)
	return nil
}

// FactoryReporter запоминает отчёты
type FactoryReporter struct {
	mu     sync.Mutex
	Err    error
	Tags   [][]string
	Fields []map[string]any
}

func (r *FactoryReporter) Report(ctx context.Context, frameID string, tags []string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Tags = append(r.Tags, tags)
	r.Fields = append(r.Fields, fields)
	return nil
}

// Archive запоминает сохранённые кадры
type Archive struct {
	mu     sync.Mutex
	Err    error
	Saved  []string
	Labels []*entity.PredictionSet
	Images []image.Image
}

func (a *Archive) Save(ctx context.Context, frameID string, annotated image.Image, labels *entity.PredictionSet, tags []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Saved = append(a.Saved, frameID)
	a.Labels = append(a.Labels, labels)
	a.Images = append(a.Images, annotated)
	return nil
}

// Notifier запоминает оповещения
type Notifier struct {
	mu       sync.Mutex
	Err      error
	Verdicts []string
	FrameIDs []string
}

func (n *Notifier) Notify(ctx context.Context, frameID, verdict string, tags []string, annotated image.Image) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Verdicts = append(n.Verdicts, verdict)
	n.FrameIDs = append(n.FrameIDs, frameID)
	return nil
}

// FrameSource отдаёт кадры из среза, затем io.EOF
type FrameSource struct {
	Frames []entity.Frame
	Closed bool
	next   int
}

func (s *FrameSource) Next(ctx context.Context) (entity.Frame, error) {
	if err := ctx.Err(); err != nil {
		return entity.Frame{}, err
	}
	if s.next >= len(s.Frames) {
		return entity.Frame{}, io.EOF
	}
	f := s.Frames[s.next]
	s.next++
	return f, nil
}

func (s *FrameSource) Close() error {
	s.Closed = true
	return nil
}

// FrameProcessor меняет только размер, без пикселей.
// Ops, если заданы, возвращаются вместо посчитанных.
type FrameProcessor struct {
	Ops transform.Operators
}

func (p FrameProcessor) Resize(img image.Image, width, height int) (image.Image, transform.Operators, error) {
	b := img.Bounds()
	if p.Ops != nil {
		return image.NewRGBA(image.Rect(0, 0, width, height)), p.Ops, nil
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), transform.Operators{
		transform.Resize{TargetW: float64(width), TargetH: float64(height), OrigW: float64(b.Dx()), OrigH: float64(b.Dy())},
	}, nil
}

func (p FrameProcessor) Letterbox(img image.Image, width, height int) (image.Image, transform.Operators, error) {
	return p.Resize(img, width, height)
}

var (
	_ port.AnomalyDetector = (*AnomalyModel)(nil)
	_ port.ObjectDetector  = (*DetectorModel)(nil)
	_ port.AutomationSink  = (*AutomationSink)(nil)
	_ port.FactoryReporter = (*FactoryReporter)(nil)
	_ port.FrameProcessor  = FrameProcessor{}
	_ port.Archive         = (*Archive)(nil)
	_ port.Notifier        = (*Notifier)(nil)
	_ port.FrameSource     = (*FrameSource)(nil)
)
