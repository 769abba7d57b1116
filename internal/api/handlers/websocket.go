// websocket.go — транспорт веб-клиентов поверх gorilla/websocket.
//
// Каждое соединение регистрируется в Hub как клиент рассылки. Горутина
// чтения только принимает кадры и отвечает на pong, сообщения обрабатываются
// по очереди отдельным обработчиком соединения. Долгий запрос (внешний поиск,
// графики) не останавливает чтение, и соединение не закрывается по таймауту.
// Паника при обработке одного сообщения не закрывает соединение.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sahwar/xdcc-grabscher/internal/broadcast"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 << 10
	requestQueue = 32
)

// Hub — реестр клиентов рассылки. Реализуется *broadcast.Router.
type Hub interface {
	Connect(sender broadcast.Sender) *broadcast.Client
	Disconnect(c *broadcast.Client)
}

// RequestHandler — обработчик сообщений клиента. Реализуется *Dispatcher.
type RequestHandler interface {
	Handle(ctx context.Context, s Session, data []byte)
}

// WebSocketHandler принимает websocket-соединения веб-клиентов.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      Hub
	requests RequestHandler
	logger   *slog.Logger

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWebSocketHandler создаёт обработчик. allowedOrigins — допустимые
// значения заголовка Origin; пустой список разрешает любой источник.
func NewWebSocketHandler(hub Hub, requests RequestHandler, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		hub:        hub,
		requests:   requests,
		logger:     logger.With(slog.String("component", "websocket")),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// originChecker разрешает запросы без Origin (не из браузера) и из списка.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP выполняет upgrade и обслуживает соединение до его закрытия.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой.
		h.logger.Warn("Ошибка upgrade websocket",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sender := &connSender{conn: conn}
	client := h.hub.Connect(sender)
	logger := h.logger.With(
		slog.String("client", client.ID().String()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ctx, cancel := context.WithCancel(r.Context())
	inbox := make(chan []byte, requestQueue)
	defer func() {
		cancel()
		close(inbox)
		h.hub.Disconnect(client)
		_ = sender.Close()
	}()

	go keepAlive(ctx, sender, h.pingPeriod)
	go h.serveRequests(ctx, inbox, client, logger)
	h.readLoop(ctx, conn, inbox, logger)
}

// readLoop читает сообщения клиента, пока соединение открыто, и передаёт
// их обработчику соединения.
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, inbox chan<- []byte, logger *slog.Logger) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Соединение закрыто с ошибкой", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		select {
		case inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

// serveRequests обрабатывает сообщения соединения в порядке поступления.
// Завершается при закрытии inbox или отмене ctx.
func (h *WebSocketHandler) serveRequests(ctx context.Context, inbox <-chan []byte, s Session, logger *slog.Logger) {
	for data := range inbox {
		if ctx.Err() != nil {
			return
		}
		h.handle(ctx, s, data, logger)
	}
}

// handle — граница безопасности: паника при обработке одного сообщения
// логируется, соединение продолжает работу.
func (h *WebSocketHandler) handle(ctx context.Context, s Session, data []byte, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			requestsRejected.WithLabelValues("panic").Inc()
			logger.Error("Паника при обработке сообщения клиента", slog.Any("panic", rec))
		}
	}()
	h.requests.Handle(ctx, s, data)
}

// keepAlive периодически отправляет ping, чтобы обнаружить мёртвое соединение.
func keepAlive(ctx context.Context, s *connSender, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// connSender — broadcast.Sender поверх websocket-соединения.
// gorilla/websocket не допускает параллельной записи, поэтому запись под мьютексом.
type connSender struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *connSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *connSender) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
