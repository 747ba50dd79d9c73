//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

// QualityGate пороги качества эталонного снимка
type QualityGate struct {
	MinImageSide          int
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64
	MaxUnderexposedRatio  float64
	MaxGlareRatio         float64
}

// DefaultQualityGate пороги для эталона, снятого на линии
func DefaultQualityGate() QualityGate {
	return QualityGate{
		MinImageSide:          400,
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
	}
}

// ReferenceDiffDetector детектор аномалий сравнением с эталонным снимком.
// model_path указывает на эталон; карта ошибок это модуль разности яркостей в [0, 1].
type ReferenceDiffDetector struct {
	reference gocv.Mat // эталон в оттенках серого
	mu        sync.Mutex
}

// NewAnomalyModel конструктор для реестра
func NewAnomalyModel(ctx context.Context, role string, cfg entity.ModelConfig) (port.AnomalyDetector, error) {
	return NewReferenceDiffDetector(cfg.ModelPath, DefaultQualityGate())
}

// NewReferenceDiffDetector читает эталон и проверяет его качество
func NewReferenceDiffDetector(path string, gate QualityGate) (*ReferenceDiffDetector, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read reference image %s", path)
	}
	defer mat.Close()

	if err := gate.check(mat, "reference image"); err != nil {
		return nil, err
	}

	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	return &ReferenceDiffDetector{reference: gray}, nil
}

// Warmup прогоняет пустой кадр размера эталона
func (d *ReferenceDiffDetector) Warmup(ctx context.Context, inputSize [2]int) error {
	h, w := d.reference.Rows(), d.reference.Cols()
	if inputSize[0] > 0 && inputSize[1] > 0 {
		h, w = inputSize[0], inputSize[1]
	}
	_, err := d.Predict(ctx, image.NewRGBA(image.Rect(0, 0, w, h)))
	return err
}

// Predict строит карту ошибок размера кадра
func (d *ReferenceDiffDetector) Predict(ctx context.Context, img image.Image) (*entity.ErrorMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reference.Empty() {
		return nil, errors.New("reference is released")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	frameW, frameH := mat.Cols(), mat.Rows()
	refW, refH := d.reference.Cols(), d.reference.Rows()

	// Приводим кадр к размеру эталона
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	if frameW != refW || frameH != refH {
		gocv.Resize(gray, &gray, image.Pt(refW, refH), 0, 0, gocv.InterpolationArea)
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(d.reference, gray, &diff)

	// Подавляем мелкий шум
	gocv.GaussianBlur(diff, &diff, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	// Возвращаем карту в размер кадра
	if frameW != refW || frameH != refH {
		gocv.Resize(diff, &diff, image.Pt(frameW, frameH), 0, 0, gocv.InterpolationLinear)
	}

	data, err := diff.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("read diff: %w", err)
	}
	values := make([]float32, len(data))
	for i, v := range data {
		values[i] = float32(v) / 255
	}
	return &entity.ErrorMap{Width: frameW, Height: frameH, Values: values}, nil
}

// Annotate накладывает тепловую карту и обводит области выше threshold.
// max значение ошибки, которому соответствует самый горячий цвет.
func (d *ReferenceDiffDetector) Annotate(img image.Image, errMap *entity.ErrorMap, threshold, max float64) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	if errMap.Width != mat.Cols() || errMap.Height != mat.Rows() {
		return nil, &entity.DimensionMismatchError{
			Want: [2]int{mat.Rows(), mat.Cols()},
			Got:  [2]int{errMap.Height, errMap.Width},
		}
	}
	if max <= 0 {
		max = errMap.Max()
	}
	if max <= 0 {
		max = 1
	}

	heat := make([]byte, len(errMap.Values))
	mask := make([]byte, len(errMap.Values))
	for i, v := range errMap.Values {
		heat[i] = uint8(min(float64(v)/max, 1) * 255)
		if float64(v) > threshold {
			mask[i] = 255
		}
	}

	heatMat, err := gocv.NewMatFromBytes(errMap.Height, errMap.Width, gocv.MatTypeCV8U, heat)
	if err != nil {
		return nil, err
	}
	defer heatMat.Close()

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(heatMat, &colored, gocv.ColormapJet)

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(mat, 0.6, colored, 0.4, 0, &out)

	maskMat, err := gocv.NewMatFromBytes(errMap.Height, errMap.Width, gocv.MatTypeCV8U, mask)
	if err != nil {
		return nil, err
	}
	defer maskMat.Close()

	contours := gocv.FindContours(maskMat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	red := color.RGBA{R: 255, A: 255}
	for i := 0; i < contours.Size(); i++ {
		gocv.Rectangle(&out, gocv.BoundingRect(contours.At(i)), red, 2)
	}
	return out.ToImage()
}

func (d *ReferenceDiffDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reference.Empty() {
		return d.reference.Close()
	}
	return nil
}

func (g QualityGate) check(mat gocv.Mat, label string) error {
	if mat.Empty() {
		return fmt.Errorf("quality gate failed for %s: empty image", label)
	}

	if mat.Cols() < g.MinImageSide || mat.Rows() < g.MinImageSide {
		return fmt.Errorf("quality gate failed for %s: image is too small (%dx%d)", label, mat.Cols(), mat.Rows())
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 80, 160)
	if r := ratioOfMask(edges); r < g.MinSharpnessEdgeRatio {
		return fmt.Errorf("quality gate failed for %s: image is blurry (edge_ratio=%.4f)", label, r)
	}

	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, 250, 255, gocv.ThresholdBinary)
	if r := ratioOfMask(bright); r > g.MaxOverexposedRatio {
		return fmt.Errorf("quality gate failed for %s: overexposed image (ratio=%.4f)", label, r)
	}

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 20, 255, gocv.ThresholdBinaryInv)
	if r := ratioOfMask(dark); r > g.MaxUnderexposedRatio {
		return fmt.Errorf("quality gate failed for %s: underexposed image (ratio=%.4f)", label, r)
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorBGRToHSV)
	channels := gocv.Split(hsv)
	for i := range channels {
		defer channels[i].Close()
	}
	if len(channels) < 3 {
		return fmt.Errorf("quality gate failed for %s: invalid hsv channels", label)
	}

	lowSat := gocv.NewMat()
	defer lowSat.Close()
	gocv.Threshold(channels[1], &lowSat, 40, 255, gocv.ThresholdBinaryInv)

	highVal := gocv.NewMat()
	defer highVal.Close()
	gocv.Threshold(channels[2], &highVal, 245, 255, gocv.ThresholdBinary)

	glare := gocv.NewMat()
	defer glare.Close()
	gocv.BitwiseAnd(lowSat, highVal, &glare)
	if r := ratioOfMask(glare); r > g.MaxGlareRatio {
		return fmt.Errorf("quality gate failed for %s: too much glare (ratio=%.4f)", label, r)
	}
	return nil
}

func ratioOfMask(mask gocv.Mat) float64 {
	total := mask.Cols() * mask.Rows()
	if total <= 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

var _ port.AnomalyDetector = (*ReferenceDiffDetector)(nil)
