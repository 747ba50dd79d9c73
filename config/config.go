package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config параметры процесса из окружения
type Config struct {
	PipelineDef   string // путь к YAML описанию конвейера
	FactoryModels string // путь к описаниям моделей от фабрики, необязательно
	FramesDir     string // каталог с кадрами для обработки
	LogLevel      string

	MQTTBroker   string // tcp://host:1883; пусто выключает автоматику и отчёты
	MQTTPrefix   string
	MQTTClientID string

	SQLitePath string // пусто: архив в памяти

	TelegramToken  string
	TelegramChatID int64

	HTTPAddr string // адрес статусного HTTP сервера; пусто выключает

	ArchiveEvery int // перекрывает archive_every из описания, если задано
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		PipelineDef:   getEnv("PIPELINE_DEF", "pipeline.yaml"),
		FactoryModels: os.Getenv("FACTORY_MODELS"),
		FramesDir:     getEnv("FRAMES_DIR", "frames"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MQTTBroker:    os.Getenv("MQTT_BROKER"),
		MQTTPrefix:    getEnv("MQTT_PREFIX", "gadget"),
		MQTTClientID:  getEnv("MQTT_CLIENT_ID", "gadget-inspection"),
		SQLitePath:    os.Getenv("SQLITE_PATH"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
	}

	var err error
	if cfg.TelegramChatID, err = getInt64("TELEGRAM_CHAT_ID"); err != nil {
		return nil, err
	}
	archiveEvery, err := getInt64("ARCHIVE_EVERY")
	if err != nil {
		return nil, err
	}
	cfg.ArchiveEvery = int(archiveEvery)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	if c.PipelineDef == "" {
		return errors.New("PIPELINE_DEF is required")
	}
	if c.ArchiveEvery < 0 {
		return errors.New("ARCHIVE_EVERY must not be negative")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt64(key string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
