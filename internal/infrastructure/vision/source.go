package vision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

var frameExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true, ".gif": true,
}

// DirectorySource отдаёт изображения каталога в лексикографическом порядке
type DirectorySource struct {
	dir   string
	files []string
	next  int
}

// NewDirectorySource читает список кадров каталога
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &DirectorySource{dir: dir, files: files}, nil
}

// Len число кадров в каталоге
func (s *DirectorySource) Len() int {
	return len(s.files)
}

// Next следующий кадр или io.EOF
func (s *DirectorySource) Next(ctx context.Context) (entity.Frame, error) {
	if err := ctx.Err(); err != nil {
		return entity.Frame{}, err
	}
	if s.next >= len(s.files) {
		return entity.Frame{}, io.EOF
	}
	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return entity.Frame{}, fmt.Errorf("decode frame %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return entity.Frame{}, err
	}
	return entity.Frame{
		ID:         uuid.NewString(),
		Source:     filepath.Base(path),
		Image:      img,
		CapturedAt: info.ModTime(),
	}, nil
}

func (s *DirectorySource) Close() error {
	s.files = nil
	return nil
}

var _ port.FrameSource = (*DirectorySource)(nil)
