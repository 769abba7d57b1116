// Пакет ingest — приём событий IRC-стороны из NATS.
//
// IRC-соединения и передача файлов живут в отдельном процессе; он
// публикует статусные строки ботов, состояние соединений, прогресс
// загрузок и уведомления. Handler применяет их к графу, создавая
// недостающие сервер, канал и бота на лету.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
)

// Типы входящих сообщений.
const (
	TypeInfo         = "info"
	TypeConnection   = "connection"
	TypeTransfer     = "transfer"
	TypeTransferEnd  = "transfer_end"
	TypeNotification = "notification"
)

// ErrMalformed — сообщение не удалось разобрать или в нём нет обязательных полей.
var ErrMalformed = errors.New("некорректное сообщение")

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xg_ingest_messages_total",
	Help: "Количество сообщений IRC-стороны по типу и результату",
}, []string{"type", "result"}) // result: ok, error

// Message — событие IRC-стороны.
type Message struct {
	Type    string `json:"type"`
	Server  string `json:"server"`
	Channel string `json:"channel"`
	Bot     string `json:"bot"`

	// info
	Text string `json:"text"`

	// connection
	Connected *bool `json:"connected"`

	// transfer, transfer_end
	Packet      int     `json:"packet"`
	File        string  `json:"file"`
	Size        int64   `json:"size"`
	Offset      int64   `json:"offset"`
	CurrentSize int64   `json:"current_size"`
	Speed       float64 `json:"speed"`
	TimeMissing int64   `json:"time_missing"`

	// notification
	Notification int    `json:"notification"`
	Name         string `json:"name"`
	Parent       string `json:"parent"`
}

// LineParser — разбор статусной строки бота.
type LineParser interface {
	Parse(botID uuid.UUID, line string) (bool, error)
}

// Handler применяет события IRC-стороны к графу.
type Handler struct {
	graph  *graph.Graph
	parser LineParser
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler создаёт Handler.
func NewHandler(g *graph.Graph, parser LineParser, logger *slog.Logger) *Handler {
	return &Handler{
		graph:  g,
		parser: parser,
		logger: logger.With(slog.String("component", "ingest")),
		now:    time.Now,
	}
}

// Handle разбирает и применяет одно сообщение.
func (h *Handler) Handle(data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		messagesTotal.WithLabelValues("unknown", "error").Inc()
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	err := h.apply(&msg)
	result := "ok"
	if err != nil {
		result = "error"
	}
	messagesTotal.WithLabelValues(msg.Type, result).Inc()
	return err
}

func (h *Handler) apply(msg *Message) error {
	switch msg.Type {
	case TypeInfo:
		return h.applyInfo(msg)
	case TypeConnection:
		return h.applyConnection(msg)
	case TypeTransfer:
		return h.applyTransfer(msg)
	case TypeTransferEnd:
		return h.applyTransferEnd(msg)
	case TypeNotification:
		return h.applyNotification(msg)
	default:
		return fmt.Errorf("%w: неизвестный тип %q", ErrMalformed, msg.Type)
	}
}

func (h *Handler) applyInfo(msg *Message) error {
	if msg.Bot == "" || msg.Text == "" {
		return fmt.Errorf("%w: info без bot или text", ErrMalformed)
	}
	bot, err := h.ensureBot(msg.Server, msg.Channel, msg.Bot)
	if err != nil {
		return err
	}

	now := h.now()
	if _, err := graph.Modify(h.graph, bot.GUID, func(b *model.Bot) {
		b.SetLastMessage(msg.Text)
		b.SetLastContact(now)
	}); err != nil {
		return fmt.Errorf("обновление бота %q: %w", msg.Bot, err)
	}

	if _, err := h.parser.Parse(bot.GUID, msg.Text); err != nil {
		return fmt.Errorf("разбор строки бота %q: %w", msg.Bot, err)
	}
	return nil
}

func (h *Handler) applyConnection(msg *Message) error {
	if msg.Connected == nil {
		return fmt.Errorf("%w: connection без connected", ErrMalformed)
	}

	var (
		target model.Object
		err    error
	)
	switch {
	case msg.Bot != "":
		target, err = h.ensureBot(msg.Server, msg.Channel, msg.Bot)
	case msg.Channel != "":
		target, err = h.ensureChannel(msg.Server, msg.Channel)
	default:
		target, err = h.ensureServer(msg.Server)
	}
	if err != nil {
		return err
	}

	_, err = h.graph.Update(target.Base().GUID, func(obj model.Object) {
		obj.Base().SetConnected(*msg.Connected)
	})
	if err != nil {
		return fmt.Errorf("обновление соединения %s: %w", target.Kind(), err)
	}
	return nil
}

func (h *Handler) applyTransfer(msg *Message) error {
	if msg.Bot == "" || msg.Packet <= 0 || msg.File == "" {
		return fmt.Errorf("%w: transfer без bot, packet или file", ErrMalformed)
	}
	packet, err := h.ensurePacket(msg)
	if err != nil {
		return err
	}

	partID := packet.PartGUID
	if partID == uuid.Nil {
		file, ok := h.graph.FileByName(msg.File)
		if !ok {
			file = model.NewFile(msg.File, msg.Size)
			if err := h.graph.Add(file); err != nil {
				return fmt.Errorf("создание файла %q: %w", msg.File, err)
			}
		}
		stop := msg.Size
		if stop <= msg.Offset {
			stop = file.Size
		}
		part := model.NewFilePart(file.GUID, msg.Offset, stop)
		if err := h.graph.Add(part); err != nil {
			return fmt.Errorf("создание части файла %q: %w", msg.File, err)
		}
		if err := h.graph.AttachPart(part.GUID, packet.GUID); err != nil {
			return fmt.Errorf("привязка части к пакету #%d: %w", msg.Packet, err)
		}
		partID = part.GUID
	}

	_, err = graph.Modify(h.graph, partID, func(p *model.FilePart) {
		p.SetCurrentSize(msg.CurrentSize)
		p.SetSpeed(msg.Speed)
		p.SetTimeMissing(msg.TimeMissing)
	})
	if err != nil {
		return fmt.Errorf("обновление части файла %q: %w", msg.File, err)
	}
	return nil
}

func (h *Handler) applyTransferEnd(msg *Message) error {
	bot, ok := h.findBot(msg.Server, msg.Channel, msg.Bot)
	if !ok {
		return nil
	}
	packet, ok := h.graph.PacketByID(bot.GUID, msg.Packet)
	if !ok || packet.PartGUID == uuid.Nil {
		return nil
	}
	if err := h.graph.Remove(packet.PartGUID); err != nil && !errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("завершение загрузки пакета #%d: %w", msg.Packet, err)
	}
	return nil
}

func (h *Handler) applyNotification(msg *Message) error {
	t := model.NotificationType(msg.Notification)
	if !t.Valid() {
		return fmt.Errorf("%w: неизвестный тип уведомления %d", ErrMalformed, msg.Notification)
	}
	if err := h.graph.Add(model.NewNotification(t, msg.Name, msg.Parent)); err != nil {
		return fmt.Errorf("добавление уведомления: %w", err)
	}
	return nil
}

// --- Поиск и создание промежуточных объектов ---

func (h *Handler) ensureServer(name string) (*model.Server, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: не указан server", ErrMalformed)
	}
	s, created, err := graph.Ensure(h.graph, model.NewServer(name, model.DefaultIRCPort))
	if err != nil {
		return nil, fmt.Errorf("создание сервера %q: %w", name, err)
	}
	if created {
		h.logger.Info("Сервер создан по событию IRC", slog.String("server", name))
	}
	return s, nil
}

func (h *Handler) ensureChannel(server, name string) (*model.Channel, error) {
	s, err := h.ensureServer(server)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: не указан channel", ErrMalformed)
	}
	c, _, err := graph.Ensure(h.graph, model.NewChannel(s.GUID, name))
	if err != nil {
		return nil, fmt.Errorf("создание канала %q: %w", name, err)
	}
	return c, nil
}

func (h *Handler) ensureBot(server, channel, name string) (*model.Bot, error) {
	c, err := h.ensureChannel(server, channel)
	if err != nil {
		return nil, err
	}
	b, _, err := graph.Ensure(h.graph, model.NewBot(c.GUID, name))
	if err != nil {
		return nil, fmt.Errorf("создание бота %q: %w", name, err)
	}
	return b, nil
}

func (h *Handler) ensurePacket(msg *Message) (*model.Packet, error) {
	bot, err := h.ensureBot(msg.Server, msg.Channel, msg.Bot)
	if err != nil {
		return nil, err
	}
	p := model.NewPacket(bot.GUID, msg.Packet, msg.File)
	p.Size = msg.Size
	p, _, err = graph.Ensure(h.graph, p)
	if err != nil {
		return nil, fmt.Errorf("создание пакета #%d: %w", msg.Packet, err)
	}
	return p, nil
}

func (h *Handler) findBot(server, channel, name string) (*model.Bot, bool) {
	s, ok := h.graph.ServerByName(server)
	if !ok {
		return nil, false
	}
	c, ok := h.graph.ChannelByName(s.GUID, channel)
	if !ok {
		return nil, false
	}
	return h.graph.BotByName(c.GUID, name)
}
