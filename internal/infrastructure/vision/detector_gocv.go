//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// ONNXDetector детектор YOLOv8 в формате ONNX через OpenCV DNN
type ONNXDetector struct {
	net       gocv.Net
	classes   []string
	inputSize image.Point
	mu        sync.Mutex
}

// NewDetectorModel конструктор для реестра
func NewDetectorModel(ctx context.Context, role string, cfg entity.ModelConfig) (port.ObjectDetector, error) {
	return NewONNXDetector(cfg)
}

// NewONNXDetector загружает сеть из cfg.ModelPath
func NewONNXDetector(cfg entity.ModelConfig) (*ONNXDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	h, w, ok := cfg.InputSize()
	if !ok {
		h, w = 640, 640
	}
	return &ONNXDetector{
		net:       net,
		classes:   classNames(cfg.Extra),
		inputSize: image.Pt(w, h),
	}, nil
}

// Warmup один прогон на чёрном кадре
func (d *ONNXDetector) Warmup(ctx context.Context, inputSize [2]int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	blank := gocv.NewMatWithSize(d.inputSize.Y, d.inputSize.X, gocv.MatTypeCV8UC3)
	defer blank.Close()

	blob := gocv.BlobFromImage(blank, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return fmt.Errorf("warm up produced empty output")
	}
	return nil
}

// Predict возвращает объекты в координатах переданного кадра.
// Если кадр подготовлен цепочкой ops, координаты помечаются как InputSpace.
func (d *ONNXDetector) Predict(ctx context.Context, img image.Image, confidence map[string]float64, ops transform.Operators, iou float64) (*entity.Detections, entity.Timing, error) {
	var timing entity.Timing
	if err := ctx.Err(); err != nil {
		return nil, timing, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, timing, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	timing.Preprocess = time.Since(start)

	start = time.Now()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()
	timing.Inference = time.Since(start)

	start = time.Now()
	dets, err := d.parse(output, float64(mat.Cols()), float64(mat.Rows()), confidence, iou)
	if err != nil {
		return nil, timing, err
	}
	dets.InputSpace = len(ops) > 0
	timing.Postprocess = time.Since(start)
	return dets, timing, nil
}

// parse разбирает выход YOLOv8 [1, 4+classes, N]
func (d *ONNXDetector) parse(output gocv.Mat, imgW, imgH float64, confidence map[string]float64, iou float64) (*entity.Detections, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", sizes)
	}
	attrs, rows := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	scaleX := imgW / float64(d.inputSize.X)
	scaleY := imgH / float64(d.inputSize.Y)
	lowest := float32(minConfidence(confidence))

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []string
	)
	for i := 0; i < rows; i++ {
		best, bestID := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*rows+i]; s > best {
				best, bestID = s, c-4
			}
		}
		if best < lowest {
			continue
		}
		label := className(d.classes, bestID)
		if float64(best) < confidenceFor(confidence, label) {
			continue
		}

		cx, cy := float64(data[i]), float64(data[rows+i])
		w, h := float64(data[2*rows+i]), float64(data[3*rows+i])
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*scaleX), int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX), int((cy+h/2)*scaleY),
		))
		scores = append(scores, best)
		classes = append(classes, label)
	}

	dets := &entity.Detections{}
	if len(boxes) == 0 {
		return dets, nil
	}
	if iou <= 0 {
		iou = 0.45
	}

	for _, idx := range gocv.NMSBoxes(boxes, scores, lowest, float32(iou)) {
		b := boxes[idx]
		dets.Boxes = append(dets.Boxes, [4]float64{
			float64(b.Min.X), float64(b.Min.Y), float64(b.Max.X), float64(b.Max.Y),
		})
		dets.Scores = append(dets.Scores, float64(scores[idx]))
		dets.Classes = append(dets.Classes, classes[idx])
	}
	return dets, nil
}

// Annotate рисует рамки и подписи классов на исходном кадре
func (d *ONNXDetector) Annotate(img image.Image, dets *entity.Detections, colors map[string][3]uint8) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	for i := 0; i < dets.Len() && i < len(dets.Boxes); i++ {
		b := dets.Boxes[i]
		rect := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
		c := classColor(colors, dets.Classes[i])
		rgba := color.RGBA{R: c[0], G: c[1], B: c[2], A: 255}

		gocv.Rectangle(&mat, rect, rgba, 2)
		label := dets.Classes[i]
		if i < len(dets.Scores) {
			label = fmt.Sprintf("%s %.2f", label, dets.Scores[i])
		}
		gocv.PutText(&mat, label, image.Pt(rect.Min.X, max(rect.Min.Y-4, 12)),
			gocv.FontHersheySimplex, 0.5, rgba, 1)
	}
	return mat.ToImage()
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

var _ port.ObjectDetector = (*ONNXDetector)(nil)
