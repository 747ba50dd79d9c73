package storage

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

var ErrNotFound = errors.New("archived frame not found")

// Record архивированный кадр
type Record struct {
	FrameID string
	Image   image.Image
	Labels  *entity.PredictionSet
	Tags    []string
	SavedAt time.Time
}

// MemoryArchive in-memory архив кадров
type MemoryArchive struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	limit   int
}

// NewMemoryArchive создаёт архив, хранящий не больше limit последних кадров (0 без ограничения)
func NewMemoryArchive(limit int) *MemoryArchive {
	return &MemoryArchive{
		records: make(map[string]*Record),
		limit:   limit,
	}
}

// Save сохраняет кадр; повторное сохранение того же кадра заменяет запись
func (a *MemoryArchive) Save(ctx context.Context, frameID string, annotated image.Image, labels *entity.PredictionSet, tags []string) error {
	rec := &Record{
		FrameID: frameID,
		Image:   annotated,
		Labels:  labels,
		Tags:    append([]string(nil), tags...),
		SavedAt: time.Now(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.records[frameID]; !exists {
		a.order = append(a.order, frameID)
	}
	a.records[frameID] = rec

	// Вытесняем самые старые записи
	for a.limit > 0 && len(a.order) > a.limit {
		delete(a.records, a.order[0])
		a.order = a.order[1:]
	}
	return nil
}

// Get возвращает запись по ID кадра
func (a *MemoryArchive) Get(ctx context.Context, frameID string) (*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[frameID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Len число записей
func (a *MemoryArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Проверка реализации интерфейса
var _ port.Archive = (*MemoryArchive)(nil)
