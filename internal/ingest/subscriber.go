// subscriber.go — подписка на события IRC-стороны и публикация команд через NATS.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected — подписчик не запущен.
var ErrNotConnected = errors.New("нет соединения с NATS")

const (
	clientName    = "xg-server"
	reconnectWait = 2 * time.Second
)

// MessageHandler — обработчик сырых сообщений IRC-стороны.
type MessageHandler interface {
	Handle(data []byte) error
}

// Publisher — отправка сообщения в subject. Реализуется *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// command — команда IRC-стороне.
type command struct {
	Type   string `json:"type"`
	Server string `json:"server"`
}

// Subscriber получает события из NATS и отправляет команды обратно.
type Subscriber struct {
	url      string
	events   string
	commands string
	handler  MessageHandler
	logger   *slog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
	pub  Publisher
}

// NewSubscriber создаёт подписчика. Соединение открывается в Start.
func NewSubscriber(url, events, commands string, handler MessageHandler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:      url,
		events:   events,
		commands: commands,
		handler:  handler,
		logger:   logger.With(slog.String("component", "ingest-nats")),
	}
}

// Start подключается к NATS и подписывается на subject событий.
// Переподключение бесконечное: IRC-сторона может перезапускаться.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("Соединение с NATS потеряно", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("Соединение с NATS восстановлено", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Error("Ошибка NATS", slog.String("error", err.Error()))
		}),
	}

	conn, err := nats.Connect(s.url, opts...)
	if err != nil {
		return fmt.Errorf("подключение к NATS %s: %w", s.url, err)
	}

	sub, err := conn.Subscribe(s.events, s.receive)
	if err != nil {
		conn.Close()
		return fmt.Errorf("подписка на %s: %w", s.events, err)
	}

	s.conn, s.sub, s.pub = conn, sub, conn
	s.logger.Info("Приём событий IRC запущен",
		slog.String("url", s.url),
		slog.String("subject", s.events),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// receive — обработчик сообщений подписки. Ошибка одного сообщения
// не прерывает приём остальных.
func (s *Subscriber) receive(msg *nats.Msg) {
	if err := s.handler.Handle(msg.Data); err != nil {
		s.logger.Warn("Сообщение IRC-стороны отклонено",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// Stop дожидается обработки полученных сообщений и закрывает соединение.
// Повторный вызов безопасен.
func (s *Subscriber) Stop() {
	if s.conn == nil || s.conn.IsClosed() || s.conn.IsDraining() {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("Ошибка завершения NATS", slog.String("error", err.Error()))
		s.conn.Close()
	}
	s.logger.Info("Приём событий IRC остановлен")
}

// CloseServer просит IRC-сторону закрыть соединение с сервером.
func (s *Subscriber) CloseServer(_ context.Context, server string) error {
	if s.pub == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(command{Type: "close_server", Server: server})
	if err != nil {
		return fmt.Errorf("кодирование команды: %w", err)
	}
	if err := s.pub.Publish(s.commands, data); err != nil {
		return fmt.Errorf("публикация в %s: %w", s.commands, err)
	}
	s.logger.Info("Команда закрытия сервера отправлена", slog.String("server", server))
	return nil
}
