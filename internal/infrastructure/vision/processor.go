package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

// letterboxFill серый фон полей, как у YOLO
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// ImagingProcessor предобработка кадра на чистом Go.
// Каждая операция возвращает цепочку, по которой координаты возвращаются в исходный кадр.
type ImagingProcessor struct {
	Filter imaging.ResampleFilter
}

// NewImagingProcessor процессор с билинейной интерполяцией
func NewImagingProcessor() *ImagingProcessor {
	return &ImagingProcessor{Filter: imaging.Linear}
}

// Resize растягивает кадр до width x height без сохранения пропорций
func (p *ImagingProcessor) Resize(img image.Image, width, height int) (image.Image, transform.Operators, error) {
	b, err := checkSize(img, width, height)
	if err != nil {
		return nil, nil, err
	}

	out := imaging.Resize(img, width, height, p.Filter)
	ops := transform.Operators{transform.Resize{
		TargetW: float64(width), TargetH: float64(height),
		OrigW: float64(b.Dx()), OrigH: float64(b.Dy()),
	}}
	return out, ops, nil
}

// Letterbox вписывает кадр в width x height с сохранением пропорций,
// остаток заполняется полями поровну с двух сторон.
func (p *ImagingProcessor) Letterbox(img image.Image, width, height int) (image.Image, transform.Operators, error) {
	b, err := checkSize(img, width, height)
	if err != nil {
		return nil, nil, err
	}

	scale := min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	newW := max(1, int(float64(b.Dx())*scale+0.5))
	newH := max(1, int(float64(b.Dy())*scale+0.5))
	newW, newH = min(newW, width), min(newH, height)

	left, top := (width-newW)/2, (height-newH)/2
	resized := imaging.Resize(img, newW, newH, p.Filter)
	canvas := imaging.New(width, height, letterboxFill)
	out := imaging.Paste(canvas, resized, image.Pt(left, top))

	ops := transform.Operators{
		transform.Resize{
			TargetW: float64(newW), TargetH: float64(newH),
			OrigW: float64(b.Dx()), OrigH: float64(b.Dy()),
		},
		transform.Pad{
			Left: float64(left), Right: float64(width - newW - left),
			Top: float64(top), Bottom: float64(height - newH - top),
		},
	}
	return out, ops, nil
}

func checkSize(img image.Image, width, height int) (image.Rectangle, error) {
	if img == nil {
		return image.Rectangle{}, fmt.Errorf("empty image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return b, fmt.Errorf("empty image")
	}
	if width <= 0 || height <= 0 {
		return b, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	return b, nil
}

var _ port.FrameProcessor = (*ImagingProcessor)(nil)
