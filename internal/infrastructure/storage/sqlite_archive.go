package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "github.com/mattn/go-sqlite3" // регистрация драйвера sqlite3

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

// SQLiteArchive архив кадров в SQLite: разметка в JSON, изображение в PNG
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive открывает базу и создаёт таблицу, если её нет
func NewSQLiteArchive(dataSourceName string) (*SQLiteArchive, error) {
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dataSourceName, "?") {
			sep = "&"
		}
		dataSourceName += sep + "_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// одна запись за раз, и :memory: не теряет таблицу между соединениями
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive tables: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

func createTables(db *sql.DB) error {
	const createFramesTable = `
    CREATE TABLE IF NOT EXISTS frames (
        frame_id TEXT PRIMARY KEY,
        saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        tags TEXT NOT NULL,
        labels TEXT,
        image BLOB
    );
    CREATE INDEX IF NOT EXISTS idx_frames_saved_at ON frames(saved_at);
    `
	_, err := db.Exec(createFramesTable)
	return err
}

// Save сохраняет кадр; повторное сохранение того же кадра заменяет запись
func (a *SQLiteArchive) Save(ctx context.Context, frameID string, annotated image.Image, labels *entity.PredictionSet, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	var labelsJSON sql.NullString
	if labels != nil {
		data, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("encode labels: %w", err)
		}
		labelsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var img []byte
	if annotated != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, annotated, imaging.PNG); err != nil {
			return fmt.Errorf("encode image: %w", err)
		}
		img = buf.Bytes()
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (frame_id, saved_at, tags, labels, image) VALUES (?, ?, ?, ?, ?)`,
		frameID, time.Now().UTC(), string(tagsJSON), labelsJSON, img)
	if err != nil {
		return fmt.Errorf("insert frame %s: %w", frameID, err)
	}
	return nil
}

// Get возвращает запись по ID кадра
func (a *SQLiteArchive) Get(ctx context.Context, frameID string) (*Record, error) {
	var (
		rec        = Record{FrameID: frameID}
		tagsJSON   string
		labelsJSON sql.NullString
		img        []byte
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT saved_at, tags, labels, image FROM frames WHERE frame_id = ?`, frameID,
	).Scan(&rec.SavedAt, &tagsJSON, &labelsJSON, &img)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select frame %s: %w", frameID, err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if labelsJSON.Valid {
		rec.Labels = &entity.PredictionSet{}
		if err := json.Unmarshal([]byte(labelsJSON.String), rec.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	if len(img) > 0 {
		if rec.Image, err = imaging.Decode(bytes.NewReader(img)); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}
	return &rec, nil
}

// Len число записей
func (a *SQLiteArchive) Len(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *SQLiteArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

var _ port.Archive = (*SQLiteArchive)(nil)
