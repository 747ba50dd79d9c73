package vision

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/transform"
)

func TestImagingProcessor_Resize(t *testing.T) {
	p := NewImagingProcessor()
	img := imaging.New(200, 100, color.White)

	out, ops, err := p.Resize(img, 64, 32)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 64, 32), out.Bounds())
	require.Equal(t, transform.Operators{
		transform.Resize{TargetW: 64, TargetH: 32, OrigW: 200, OrigH: 100},
	}, ops)

	x, y := transform.RevertPoint(32, 16, ops)
	require.InDelta(t, 100, x, 1e-9)
	require.InDelta(t, 50, y, 1e-9)
}

func TestImagingProcessor_Letterbox(t *testing.T) {
	p := NewImagingProcessor()
	img := imaging.New(200, 100, color.White)

	out, ops, err := p.Letterbox(img, 100, 100)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
	require.Equal(t, transform.Operators{
		transform.Resize{TargetW: 100, TargetH: 50, OrigW: 200, OrigH: 100},
		transform.Pad{Left: 0, Right: 0, Top: 25, Bottom: 25},
	}, ops)

	// поле серое, содержимое белое
	r, _, _, _ := out.At(50, 10).RGBA()
	require.Equal(t, uint32(114*0x101), r)
	r, _, _, _ = out.At(50, 50).RGBA()
	require.Equal(t, uint32(0xffff), r)

	// точка модели возвращается в исходный кадр
	x, y := transform.RevertPoint(50, 50, ops)
	require.InDelta(t, 100, x, 1e-9)
	require.InDelta(t, 50, y, 1e-9)
}

func TestImagingProcessor_Invalid(t *testing.T) {
	p := NewImagingProcessor()

	_, _, err := p.Resize(image.NewRGBA(image.Rectangle{}), 10, 10)
	require.Error(t, err)

	_, _, err = p.Letterbox(imaging.New(10, 10, color.Black), 0, 10)
	require.Error(t, err)
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(8, 4, color.White), filepath.Join(dir, "b.png")))
	require.NoError(t, imaging.Save(imaging.New(4, 4, color.Black), filepath.Join(dir, "a.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	src, err := NewDirectorySource(dir)
	require.NoError(t, err)
	require.Equal(t, 2, src.Len())
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "a.jpg", first.Source)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "b.png", second.Source)
	h, w := second.Size()
	require.Equal(t, 4, h)
	require.Equal(t, 8, w)
	require.NotEqual(t, first.ID, second.ID)

	_, err = src.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
}
