package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	app "github.com/lmitechnologies/Gadget-Inspection-Template/internal/application"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/logging"
)

const (
	msgStart = `👋 Бот оператора линии инспекции.

Сюда приходят забракованные кадры и сбои конвейера.
📸 Отправьте фото детали, чтобы проверить его вручную.

📋 Команды:
/status — состояние конвейера
/help — справка`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Бот сам присылает кадры с вердиктом FAIL или ERROR
2️⃣ Отправьте фото детали, чтобы прогнать его через конвейер
3️⃣ /status покажет счётчики и последнее решение`

	msgSendPhoto       = "📸 Пожалуйста, отправьте фото детали для проверки."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing      = "⏳ Обрабатываю изображение..."
	msgProcessingError = "⚠️ Не удалось обработать изображение. Попробуйте сделать другое фото."
)

// Service часть сервиса инспекции, которая нужна боту.
// Фото оператора проверяются через Preview и не попадают на линию.
type Service interface {
	Preview(ctx context.Context, frame entity.Frame) (*app.InspectionOutput, error)
	Stats() app.Stats
}

// sender часть tgbotapi.BotAPI для отправки сообщений
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot бот оператора: оповещения о браке и ручная проверка фото
type Bot struct {
	api      *tgbotapi.BotAPI
	send     sender
	download func(ctx context.Context, fileID string) ([]byte, error)
	service  Service
	chatID   int64 // чат оператора, остальные игнорируются
	logger   *slog.Logger
}

// NewBot создаёт нового бота
func NewBot(token string, chatID int64, service Service, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	b := newBot(api, chatID, service, logger)
	b.api = api
	b.download = b.downloadFile
	b.logger.Info("telegram bot authorized", "account", api.Self.UserName)
	return b, nil
}

func newBot(send sender, chatID int64, service Service, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{send: send, service: service, chatID: chatID, logger: logger}
}

// Run запускает основной цикл обработки сообщений до отмены ctx
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// Notify отправляет оператору забракованный или сбойный кадр
func (b *Bot) Notify(ctx context.Context, frameID, verdict string, tags []string, annotated image.Image) error {
	caption := fmt.Sprintf("🚨 %s\nкадр: %s\nтеги: %s", verdict, frameID, strings.Join(tags, ", "))
	if annotated == nil {
		_, err := b.send.Send(tgbotapi.NewMessage(b.chatID, caption))
		return err
	}
	return b.sendPhoto(b.chatID, annotated, caption)
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != b.chatID {
		var chatID int64
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		b.logger.Warn("message from foreign chat ignored", "chat_id", chatID)
		return
	}

	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	// Обработка фото
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	// Текстовое сообщение (не команда)
	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "status":
		b.sendMessage(msg.Chat.ID, formatStats(b.service.Stats()))

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handlePhoto прогоняет присланное фото через конвейер
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	b.sendMessage(msg.Chat.ID, msgProcessing)

	// Получаем файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	data, err := b.download(ctx, photo.FileID)
	if err != nil {
		b.logger.Error("failed to download photo", logging.Err(err))
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		b.logger.Error("failed to decode photo", logging.Err(err))
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	out, err := b.service.Preview(ctx, entity.Frame{
		ID:         uuid.NewString(),
		Source:     "telegram",
		Image:      img,
		CapturedAt: time.Now(),
	})
	if err != nil {
		b.logger.Error("failed to inspect photo", logging.Err(err))
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	caption := formatResult(out)
	if annotated := out.Result.Annotated(); annotated != nil {
		if err := b.sendPhoto(msg.Chat.ID, annotated, caption); err != nil {
			b.logger.Error("failed to send annotated photo", logging.Err(err))
		}
		return
	}
	b.sendMessage(msg.Chat.ID, caption)
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (b *Bot) sendPhoto(chatID int64, img image.Image, caption string) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode photo: %w", err)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "frame.jpg", Bytes: buf.Bytes()})
	photo.Caption = caption
	_, err := b.send.Send(photo)
	return err
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.send.Send(msg); err != nil {
		b.logger.Error("failed to send message", logging.Err(err))
	}
}

func formatResult(out *app.InspectionOutput) string {
	res := out.Result
	verdict := res.Verdict()
	if verdict == "" {
		verdict = entity.TagError
	}

	var sb strings.Builder
	switch verdict {
	case entity.VerdictPass:
		sb.WriteString("✅ PASS")
	case entity.VerdictFail:
		fmt.Fprintf(&sb, "❌ FAIL (%s)", res.Decision())
	default:
		sb.WriteString("⚠️ ERROR")
	}
	if set := res.Labels(); set != nil && set.Count() > 0 {
		fmt.Fprintf(&sb, "\nнайдено: %s", strings.Join(set.Labels(), ", "))
	}
	for _, e := range res.Errors() {
		fmt.Fprintf(&sb, "\nошибка: %s", e)
	}
	fmt.Fprintf(&sb, "\nвремя: %s", out.Duration.Round(time.Millisecond))
	return sb.String()
}

func formatStats(s app.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Состояние: %s (%s)\n", s.State, s.Strategy)
	fmt.Fprintf(&sb, "Модели: %s\n", strings.Join(s.Models, ", "))
	fmt.Fprintf(&sb, "Кадров: %d, PASS: %d, FAIL: %d, ERROR: %d\n", s.Frames, s.Passed, s.Failed, s.Errors)
	fmt.Fprintf(&sb, "В архиве: %d, сбоев доставки: %d", s.Archived, s.ConsumerErrors)
	if s.LastFrameID != "" {
		fmt.Fprintf(&sb, "\nПоследний кадр: %s → %s", s.LastFrameID, s.LastVerdict)
	}
	return sb.String()
}

var _ port.Notifier = (*Bot)(nil)
