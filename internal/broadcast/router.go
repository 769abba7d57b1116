package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/graph"
)

// Observer получает первичные события графа раньше клиентов.
type Observer interface {
	Observe(ev graph.Event)
}

// Router — единственный потребитель потока событий графа.
// Каждое событие вместе с каскадом раздаётся всем клиентам; медленный
// клиент не задерживает остальных, так как у каждого своя очередь.
type Router struct {
	graph      *graph.Graph
	visibility Visibility
	queueSize  int
	logger     *slog.Logger

	mu        sync.RWMutex
	clients   map[uuid.UUID]*Client
	observers []Observer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRouter создаёт Router.
// queueSize — ёмкость очереди одного клиента (XG_WS_CLIENT_QUEUE).
func NewRouter(g *graph.Graph, visibility Visibility, queueSize int, logger *slog.Logger) *Router {
	return &Router{
		graph:      g,
		visibility: visibility,
		queueSize:  queueSize,
		logger:     logger.With(slog.String("component", "broadcast")),
		clients:    make(map[uuid.UUID]*Client),
	}
}

// AddObserver подписывает наблюдателя. Вызывается до Start.
func (r *Router) AddObserver(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Start запускает чтение событий графа.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.logger.Info("Рассылка событий графа запущена")

		events := r.graph.Events()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Рассылка событий графа остановлена")
				return
			case ev, ok := <-events:
				if !ok {
					r.logger.Info("Поток событий графа закрыт")
					return
				}
				r.Dispatch(ev)
			}
		}
	}()
}

// Stop останавливает чтение событий и отключает всех клиентов.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}

	for _, c := range r.snapshot() {
		r.Disconnect(c)
		if err := c.sender.Close(); err != nil {
			r.logger.Debug("Ошибка закрытия соединения", slog.String("error", err.Error()))
		}
	}
}

// Dispatch обрабатывает одно событие графа.
func (r *Router) Dispatch(ev graph.Event) {
	graphEvents.WithLabelValues(ev.Type.String()).Inc()

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o.Observe(ev)
	}

	var deliveries []Delivery
	switch ev.Type {
	case graph.EventAdded:
		deliveries = append(deliveries, Delivery{Type: ResponseObjectAdded, Object: ev.Object})
	case graph.EventChanged:
		deliveries = append(deliveries, Delivery{Type: ResponseObjectChanged, Object: ev.Object})
	case graph.EventRemoved:
		deliveries = append(deliveries, Delivery{Type: ResponseObjectRemoved, Object: ev.Object})
	}
	// EnabledChanged сам по себе уже пришёл как Changed, здесь только каскад.
	for _, obj := range Propagate(r.graph, ev) {
		deliveries = append(deliveries, Delivery{Type: ResponseObjectChanged, Object: obj})
	}
	if len(deliveries) == 0 {
		return
	}

	for _, c := range r.snapshot() {
		c.Publish(deliveries...)
	}
}

// Connect регистрирует новое соединение и запускает его актор.
func (r *Router) Connect(sender Sender) *Client {
	c := newClient(sender, r.visibility, r.queueSize, r.logger, r.Disconnect)

	r.mu.Lock()
	r.clients[c.id] = c
	n := len(r.clients)
	r.mu.Unlock()

	clientsConnected.Set(float64(n))
	go c.run()

	r.logger.Info("Клиент подключён", slog.String("client", c.id.String()), slog.Int("clients", n))
	return c
}

// Disconnect снимает клиента с рассылки и останавливает его актор.
func (r *Router) Disconnect(c *Client) {
	r.mu.Lock()
	_, ok := r.clients[c.id]
	delete(r.clients, c.id)
	n := len(r.clients)
	r.mu.Unlock()

	c.Close()
	if ok {
		clientsConnected.Set(float64(n))
		r.logger.Info("Клиент отключён", slog.String("client", c.id.String()), slog.Int("clients", n))
	}
}

// Clients возвращает число подключённых клиентов.
func (r *Router) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Router) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
