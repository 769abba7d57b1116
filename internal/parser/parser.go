// parser.go — применение распознанных статусных строк к графу.
package parser

import (
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

// infoLinesTotal — статусные строки по результату разбора.
var infoLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xg_info_lines_total",
	Help: "Количество статусных строк ботов по результату разбора.",
}, []string{"result"})

// Parser записывает поля из статусных строк в бота через мутаторы графа.
type Parser struct {
	graph  *graph.Graph
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Parser.
func New(g *graph.Graph, logger *slog.Logger) *Parser {
	return &Parser{
		graph:  g,
		logger: logger.With(slog.String("component", "info_parser")),
		now:    time.Now,
	}
}

// Parse разбирает строку бота botID. Нераспознанная строка не ошибка:
// возвращается false, граф не меняется.
func (p *Parser) Parse(botID uuid.UUID, line string) (bool, error) {
	info, ok := Match(line)
	if !ok {
		infoLinesTotal.WithLabelValues("unmatched").Inc()
		p.logger.Debug("Строка не распознана",
			slog.String("bot_id", botID.String()),
			slog.String("line", line),
		)
		return false, nil
	}
	infoLinesTotal.WithLabelValues(info.Pattern).Inc()

	if info.Packet != nil {
		return true, p.applyPacket(botID, info.Packet)
	}

	_, err := graph.Modify(p.graph, botID, func(b *model.Bot) {
		if info.SlotCurrent != nil || info.SlotTotal != nil {
			b.SetInfoSlots(valueOr(info.SlotCurrent, -1), valueOr(info.SlotTotal, -1))
		}
		if info.QueueCurrent != nil || info.QueueTotal != nil {
			b.SetInfoQueue(valueOr(info.QueueCurrent, -1), valueOr(info.QueueTotal, -1))
		}
		if info.SpeedCurrent != nil {
			b.SetInfoSpeedCurrent(*info.SpeedCurrent)
		}
		if info.SpeedMin != nil {
			b.SetInfoSpeedMin(*info.SpeedMin)
		}
		if info.SpeedRecord != nil {
			b.SetInfoSpeedRecord(*info.SpeedRecord)
		}
		if info.QueuePosition != nil {
			b.SetQueuePosition(*info.QueuePosition)
		}
		if info.QueueTime != nil {
			b.SetQueueTime(*info.QueueTime)
		}
	})
	if err != nil {
		return true, fmt.Errorf("применение строки %q: %w", info.Pattern, err)
	}
	return true, nil
}

// applyPacket создаёт или обновляет пакет бота из строки листинга.
func (p *Parser) applyPacket(botID uuid.UUID, info *PacketInfo) error {
	now := p.now()

	packet := model.NewPacket(botID, info.ID, info.Name)
	if info.Size >= 0 {
		packet.Size = info.Size
	}
	packet.LastMentioned = now
	existing, created, err := graph.Ensure(p.graph, packet)
	if err != nil {
		if errors.Is(err, graph.ErrParentMissing) {
			p.logger.Debug("Бот для пакета не найден", slog.String("bot_id", botID.String()))
		}
		return fmt.Errorf("добавление пакета #%d: %w", info.ID, err)
	}
	if created {
		return nil
	}

	_, err = graph.Modify(p.graph, existing.GUID, func(pk *model.Packet) {
		pk.SetName(info.Name)
		if info.Size >= 0 {
			pk.SetSize(info.Size)
		}
		pk.SetLastMentioned(now)
	})
	if err != nil {
		return fmt.Errorf("обновление пакета #%d: %w", info.ID, err)
	}
	return nil
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
