// Package status HTTP-поверхность состояния линии инспекции
package status

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	app "github.com/lmitechnologies/Gadget-Inspection-Template/internal/application"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/infrastructure/automation"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
)

// Service часть сервиса инспекции, которую показывает сервер
type Service interface {
	Stats() app.Stats
	Last() *app.InspectionOutput
}

// Publisher источник счётчиков MQTT-публикаций
type Publisher interface {
	Stats() automation.Stats
}

// Option настраивает сервер
type Option func(*Server)

// WithPublisher добавляет счётчики публикаций в /api/status
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// StatusResponse ответ /api/status
type StatusResponse struct {
	app.Stats
	MQTT *automation.Stats `json:"mqtt,omitempty"`
}

// LastFrame описание последнего кадра
type LastFrame struct {
	FrameID   string          `json:"frame_id"`
	Source    string          `json:"source"`
	Verdict   string          `json:"verdict"`
	Decision  entity.Decision `json:"decision"`
	Tags      []string        `json:"tags"`
	Errors    []string        `json:"errors"`
	Labels    []string        `json:"labels"`
	Archived  bool            `json:"archived"`
	Duration  float64         `json:"duration_seconds"`
	Annotated bool            `json:"annotated"`
}

// Server статусный сервер
type Server struct {
	app       *fiber.App
	addr      string
	service   Service
	publisher Publisher
	logger    *slog.Logger
}

// NewServer создаёт сервер и регистрирует маршруты
func NewServer(addr string, service Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, service: service, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	a := fiber.New(fiber.Config{
		AppName:               "Gadget Inspection",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
	})
	a.Use(cors.New())

	a.Get("/healthz", s.handleHealth)

	api := a.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/last", s.handleLast)
	api.Get("/last/image", s.handleLastImage)

	s.app = a
	return s
}

// App fiber-приложение, для тестов
func (s *Server) App() *fiber.App {
	return s.app
}

// Run слушает addr до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.logger.Error("status server shutdown failed", logging.Err(err))
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	state := s.service.Stats().State
	if state == entity.StateWarmed || state == entity.StateServing {
		return c.JSON(fiber.Map{"status": "ok", "state": state})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "state": state})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{Stats: s.service.Stats()}
	if s.publisher != nil {
		stats := s.publisher.Stats()
		resp.MQTT = &stats
	}
	return c.JSON(resp)
}

func (s *Server) handleLast(c *fiber.Ctx) error {
	out := s.service.Last()
	if out == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no frames inspected yet"})
	}

	res := out.Result
	last := LastFrame{
		FrameID:   out.Frame.ID,
		Source:    out.Frame.Source,
		Verdict:   res.Verdict(),
		Decision:  res.Decision(),
		Tags:      res.Tags(),
		Errors:    res.Errors(),
		Archived:  res.ShouldArchive(),
		Duration:  out.Duration.Seconds(),
		Annotated: res.Annotated() != nil,
	}
	if set := res.Labels(); set != nil {
		last.Labels = set.Labels()
	}
	return c.JSON(last)
}

func (s *Server) handleLastImage(c *fiber.Ctx) error {
	out := s.service.Last()
	if out == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no frames inspected yet"})
	}

	img := out.Result.Annotated()
	if img == nil {
		img = out.Frame.Image
	}
	if img == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "frame has no image"})
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		s.logger.Error("failed to encode last frame", logging.Err(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(buf.Bytes())
}
