package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// Sender — транспорт одного соединения.
type Sender interface {
	// Send отправляет одно текстовое сообщение.
	Send(data []byte) error
	// Close закрывает соединение.
	Close() error
}

// Visibility — поисковый фильтр для ботов и пакетов.
type Visibility interface {
	IsVisible(searchID uuid.UUID, obj model.Object) bool
	Count(searchID uuid.UUID) int
}

// Delivery — одно сообщение об объекте, проходящее через фильтр клиента.
type Delivery struct {
	Type   ResponseType
	Object model.Object
}

// Client — актор подключённого веб-клиента.
// Все команды выполняются по очереди в горутине run; при переполнении
// очереди клиент отключается.
type Client struct {
	id         uuid.UUID
	sender     Sender
	visibility Visibility
	logger     *slog.Logger
	onDrop     func(*Client)

	inbox    chan func()
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Состояние ниже меняется только в горутине run.
	loaded     map[uuid.UUID]struct{}
	lastSearch uuid.UUID
}

func newClient(sender Sender, visibility Visibility, queueSize int, logger *slog.Logger, onDrop func(*Client)) *Client {
	id := uuid.New()
	return &Client{
		id:         id,
		sender:     sender,
		visibility: visibility,
		logger:     logger.With(slog.String("client", id.String())),
		onDrop:     onDrop,
		inbox:      make(chan func(), queueSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		loaded:     make(map[uuid.UUID]struct{}),
	}
}

// ID возвращает идентификатор клиента.
func (c *Client) ID() uuid.UUID { return c.id }

// Publish доставляет сообщения об объектах через фильтр клиента:
// ObjectAdded — только ещё не отправленные, ObjectChanged и ObjectRemoved —
// только отправленные ранее. Боты и пакеты дополнительно проверяются
// последним поиском клиента.
func (c *Client) Publish(deliveries ...Delivery) {
	if len(deliveries) == 0 {
		return
	}
	c.enqueue(func() {
		for _, d := range deliveries {
			if c.gate(d.Type, d.Object) {
				c.deliver(d.Type, d.Object)
			}
		}
	})
}

// Unicast отправляет объекты как ObjectAdded без фильтра и отмечает их
// отправленными. Используется для ответов на запросы клиента.
func (c *Client) Unicast(objs ...model.Object) {
	if len(objs) == 0 {
		return
	}
	c.enqueue(func() {
		for _, obj := range objs {
			if obj.Kind() == model.KindFilePart {
				continue
			}
			c.loaded[obj.Base().GUID] = struct{}{}
			c.deliver(ResponseObjectAdded, obj)
		}
	})
}

// Send отправляет готовый ответ без фильтра (SearchComplete, графики,
// результаты внешнего поиска).
func (c *Client) Send(resp Response) {
	c.enqueue(func() { c.write(resp) })
}

// SetLastSearch запоминает поиск, по которому фильтруются боты и пакеты.
func (c *Client) SetLastSearch(id uuid.UUID) {
	c.enqueue(func() { c.lastSearch = id })
}

// Close останавливает актор. Повторные вызовы безопасны.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

// run — цикл актора.
func (c *Client) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// enqueue ставит команду в очередь. Полная очередь означает, что клиент
// не успевает читать: соединение закрывается.
func (c *Client) enqueue(fn func()) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.inbox <- fn:
	case <-c.done:
	default:
		c.drop()
	}
}

func (c *Client) drop() {
	clientsDropped.Inc()
	c.logger.Warn("Очередь клиента переполнена, соединение закрывается",
		slog.Int("queue", cap(c.inbox)),
	)
	c.Close()
	if err := c.sender.Close(); err != nil {
		c.logger.Debug("Ошибка закрытия соединения", slog.String("error", err.Error()))
	}
	if c.onDrop != nil {
		c.onDrop(c)
	}
}

// gate проверяет сообщение и обновляет набор отправленных объектов.
func (c *Client) gate(t ResponseType, obj model.Object) bool {
	kind := obj.Kind()
	if kind == model.KindFilePart {
		return false
	}

	id := obj.Base().GUID
	_, loaded := c.loaded[id]
	filtered := kind == model.KindBot || kind == model.KindPacket

	switch t {
	case ResponseObjectAdded:
		if loaded {
			return false
		}
		if filtered && !c.visibility.IsVisible(c.lastSearch, obj) {
			return false
		}
		c.loaded[id] = struct{}{}
		return true
	case ResponseObjectChanged:
		if !loaded {
			return false
		}
		return !filtered || c.visibility.IsVisible(c.lastSearch, obj)
	case ResponseObjectRemoved:
		if !loaded {
			return false
		}
		delete(c.loaded, id)
		return true
	default:
		return false
	}
}

// deliver оборачивает объект в ответ. Поиск получает число результатов.
func (c *Client) deliver(t ResponseType, obj model.Object) {
	if s, ok := obj.(*model.Search); ok {
		decorated := s.Clone().(*model.Search)
		decorated.Results = c.visibility.Count(s.GUID)
		obj = decorated
	}
	c.write(Response{Type: t, DataType: obj.Kind().String(), Data: obj})
}

// write сериализует и отправляет ответ. Ошибка затрагивает только это сообщение.
func (c *Client) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		sendErrors.Inc()
		c.logger.Error("Ошибка сериализации ответа",
			slog.String("type", resp.Type.String()),
			slog.String("data_type", resp.DataType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.sender.Send(data); err != nil {
		sendErrors.Inc()
		c.logger.Warn("Ошибка отправки сообщения клиенту",
			slog.String("type", resp.Type.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	messagesSent.WithLabelValues(resp.Type.String()).Inc()
}
