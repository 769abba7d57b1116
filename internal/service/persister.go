// persister.go — фоновое сохранение объектного графа в PostgreSQL.
//
// Persister получает первичные события графа от broadcast.Router,
// схлопывает их по идентификатору (последняя операция побеждает) и раз
// в XG_PERSIST_INTERVAL сбрасывает накопленное одной транзакцией.
// FilePart и Notification не хранятся, изменение одного Connected
// не сохраняется.
//
// Prometheus-метрики:
//   - xg_persist_flush_total — количество сбросов (по результату)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/repository"
)

var persistFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xg_persist_flush_total",
	Help: "Количество сбросов изменений графа в БД",
}, []string{"result"}) // result: ok, error

// finalFlushTimeout — время на последний сброс при остановке.
const finalFlushTimeout = 5 * time.Second

// ObjectTx — транзакционный доступ к хранилищу объектов.
type ObjectTx interface {
	InTx(ctx context.Context, fn func(repo repository.ObjectRepository) error) error
}

// pendingOp — отложенная операция над одним объектом.
type pendingOp struct {
	kind   model.Kind
	object model.Object // nil — удаление
}

// Persister — фоновый сервис сохранения графа.
type Persister struct {
	store    ObjectTx
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]pendingOp

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPersister создаёт сервис сохранения графа.
func NewPersister(store ObjectTx, interval time.Duration, logger *slog.Logger) *Persister {
	return &Persister{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "persister")),
		pending:  make(map[uuid.UUID]pendingOp),
	}
}

// Restore загружает сохранённые объекты в граф без событий.
func (p *Persister) Restore(ctx context.Context, g *graph.Graph) error {
	var objs []model.Object
	err := p.store.InTx(ctx, func(repo repository.ObjectRepository) error {
		var err error
		objs, err = repo.LoadAll(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("загрузка графа из БД: %w", err)
	}
	if err := g.Restore(objs); err != nil {
		return fmt.Errorf("восстановление графа: %w", err)
	}
	p.logger.Info("Граф восстановлен из БД", slog.Int("objects", len(objs)))
	return nil
}

// Observe ставит событие графа в очередь на сохранение.
func (p *Persister) Observe(ev graph.Event) {
	kind := ev.Object.Kind()
	if !repository.Persistable(kind) {
		return
	}
	id := ev.Object.Base().GUID

	var op pendingOp
	switch ev.Type {
	case graph.EventAdded:
		op = pendingOp{kind: kind, object: ev.Object}
	case graph.EventChanged:
		if !persistedChange(ev.Fields) {
			return
		}
		op = pendingOp{kind: kind, object: ev.Object}
	case graph.EventRemoved:
		op = pendingOp{kind: kind}
	default:
		return
	}

	p.mu.Lock()
	p.pending[id] = op
	p.mu.Unlock()
}

// persistedChange сообщает, затрагивает ли изменение хранимые поля.
func persistedChange(fields []string) bool {
	for _, f := range fields {
		if f != model.FieldConnected {
			return true
		}
	}
	return false
}

// Pending возвращает число несохранённых операций.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Start запускает периодический сброс.
func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		p.logger.Info("Сохранение графа запущено", slog.String("interval", p.interval.String()))

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				if err := p.Flush(flushCtx); err != nil {
					p.logger.Error("Ошибка последнего сохранения графа", slog.String("error", err.Error()))
				}
				cancel()
				p.logger.Info("Сохранение графа остановлено")
				return
			case <-ticker.C:
				if err := p.Flush(ctx); err != nil {
					p.logger.Error("Ошибка сохранения графа", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает сброс, выполнив последний, и ждёт завершения.
func (p *Persister) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

// Flush сохраняет накопленные операции одной транзакцией: сначала
// удаления, затем вставки в порядке родитель → потомок. При ошибке
// операции возвращаются в очередь, если их не вытеснили более новые.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[uuid.UUID]pendingOp)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var (
		upserts []model.Object
		deletes []uuid.UUID
	)
	for id, op := range batch {
		if op.object == nil {
			deletes = append(deletes, id)
		} else {
			upserts = append(upserts, op.object)
		}
	}
	slices.SortStableFunc(upserts, func(a, b model.Object) int {
		return int(a.Kind()) - int(b.Kind())
	})

	err := p.store.InTx(ctx, func(repo repository.ObjectRepository) error {
		for _, id := range deletes {
			err := repo.Delete(ctx, batch[id].kind, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		for _, obj := range upserts {
			if err := repo.Upsert(ctx, obj); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		persistFlushTotal.WithLabelValues("error").Inc()
		p.requeue(batch)
		return fmt.Errorf("сохранение %d изменений: %w", len(batch), err)
	}

	persistFlushTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("Изменения графа сохранены",
		slog.Int("upserts", len(upserts)),
		slog.Int("deletes", len(deletes)),
	)
	return nil
}

func (p *Persister) requeue(batch map[uuid.UUID]pendingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, op := range batch {
		if _, newer := p.pending[id]; !newer {
			p.pending[id] = op
		}
	}
}
