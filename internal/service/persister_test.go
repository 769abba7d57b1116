package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/repository"
)

// --- Моки ---

// mockObjectRepo — мок ObjectRepository с fn-полями.
type mockObjectRepo struct {
	loadAllFn func(ctx context.Context) ([]model.Object, error)
	upsertFn  func(ctx context.Context, obj model.Object) error
	deleteFn  func(ctx context.Context, kind model.Kind, id uuid.UUID) error
}

func (m *mockObjectRepo) LoadAll(ctx context.Context) ([]model.Object, error) {
	if m.loadAllFn != nil {
		return m.loadAllFn(ctx)
	}
	return nil, nil
}

func (m *mockObjectRepo) Upsert(ctx context.Context, obj model.Object) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, obj)
	}
	return nil
}

func (m *mockObjectRepo) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, kind, id)
	}
	return nil
}

func (m *mockObjectRepo) ServerByName(context.Context, string) (*model.Server, error) {
	return nil, repository.ErrNotFound
}

func (m *mockObjectRepo) SearchByName(context.Context, string) (*model.Search, error) {
	return nil, repository.ErrNotFound
}

// mockObjectTx — мок транзакций: вызывает fn с mockObjectRepo.
type mockObjectTx struct {
	repo  *mockObjectRepo
	mu    sync.Mutex
	calls int
}

func (m *mockObjectTx) InTx(ctx context.Context, fn func(repo repository.ObjectRepository) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(m.repo)
}

// --- Тесты ---

func TestPersister_CoalescesAndOrders(t *testing.T) {
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	search := model.NewSearch("foo")
	removed := model.NewSearch("bar")

	var upserted []model.Object
	var deleted []uuid.UUID
	repo := &mockObjectRepo{
		upsertFn: func(_ context.Context, obj model.Object) error {
			upserted = append(upserted, obj)
			return nil
		},
		deleteFn: func(_ context.Context, _ model.Kind, id uuid.UUID) error {
			deleted = append(deleted, id)
			return repository.ErrNotFound
		},
	}
	store := &mockObjectTx{repo: repo}
	p := NewPersister(store, 0, testLogger())

	renamed := server.Clone().(*model.Server)
	renamed.Name = "irc.example.net"

	p.Observe(graph.Event{Type: graph.EventAdded, Object: channel})
	p.Observe(graph.Event{Type: graph.EventAdded, Object: search})
	p.Observe(graph.Event{Type: graph.EventAdded, Object: server})
	p.Observe(graph.Event{Type: graph.EventChanged, Object: renamed, Fields: []string{model.FieldName}})
	p.Observe(graph.Event{Type: graph.EventAdded, Object: removed})
	p.Observe(graph.Event{Type: graph.EventRemoved, Object: removed})

	if p.Pending() != 4 {
		t.Fatalf("Pending() = %d, ожидается 4", p.Pending())
	}

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() ошибка: %v", err)
	}

	if len(deleted) != 1 || deleted[0] != removed.GUID {
		t.Errorf("удалены %v, ожидается %s", deleted, removed.GUID)
	}
	if len(upserted) != 3 {
		t.Fatalf("сохранено %d объектов, ожидается 3", len(upserted))
	}
	if upserted[0].Kind() != model.KindServer || upserted[1].Kind() != model.KindChannel || upserted[2].Kind() != model.KindSearch {
		t.Errorf("порядок сохранения: %s, %s, %s", upserted[0].Kind(), upserted[1].Kind(), upserted[2].Kind())
	}
	if upserted[0].Base().Name != "irc.example.net" {
		t.Errorf("сохранена устаревшая версия сервера: %q", upserted[0].Base().Name)
	}
	if p.Pending() != 0 {
		t.Errorf("после Flush осталось %d операций", p.Pending())
	}
}

func TestPersister_SkipsTransientState(t *testing.T) {
	p := NewPersister(&mockObjectTx{repo: &mockObjectRepo{}}, 0, testLogger())

	file := model.NewFile("foo.mkv", 100)
	packet := model.NewPacket(uuid.New(), 1, "foo.mkv")

	p.Observe(graph.Event{Type: graph.EventAdded, Object: model.NewFilePart(file.GUID, 0, 100)})
	p.Observe(graph.Event{Type: graph.EventAdded, Object: model.NewNotification(model.NotificationPacketCompleted, "foo", "bot")})
	p.Observe(graph.Event{Type: graph.EventChanged, Object: packet, Fields: []string{model.FieldConnected}})
	p.Observe(graph.Event{Type: graph.EventEnabledChanged, Object: packet, Fields: []string{model.FieldEnabled}})

	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, ожидается 0", p.Pending())
	}
}

func TestPersister_RequeueOnError(t *testing.T) {
	fail := true
	repo := &mockObjectRepo{
		upsertFn: func(context.Context, model.Object) error {
			if fail {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	p := NewPersister(&mockObjectTx{repo: repo}, 0, testLogger())

	search := model.NewSearch("foo")
	p.Observe(graph.Event{Type: graph.EventAdded, Object: search})

	if err := p.Flush(context.Background()); err == nil {
		t.Fatal("Flush() должен вернуть ошибку")
	}
	if p.Pending() != 1 {
		t.Fatalf("после ошибки Pending() = %d, ожидается 1", p.Pending())
	}

	fail = false
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("повторный Flush() ошибка: %v", err)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d, ожидается 0", p.Pending())
	}
}

func TestPersister_EmptyFlushSkipsTransaction(t *testing.T) {
	store := &mockObjectTx{repo: &mockObjectRepo{}}
	p := NewPersister(store, 0, testLogger())

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() ошибка: %v", err)
	}
	if store.calls != 0 {
		t.Errorf("транзакций = %d, ожидается 0", store.calls)
	}
}

func TestPersister_Restore(t *testing.T) {
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	repo := &mockObjectRepo{
		loadAllFn: func(context.Context) ([]model.Object, error) {
			return []model.Object{server, channel}, nil
		},
	}
	p := NewPersister(&mockObjectTx{repo: repo}, 0, testLogger())

	g := graph.New(16, 0)
	defer g.Close()

	if err := p.Restore(context.Background(), g); err != nil {
		t.Fatalf("Restore() ошибка: %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, ожидается 2", g.Len())
	}
	if _, ok := g.ServerByName("IRC.EXAMPLE.ORG"); !ok {
		t.Error("сервер не найден после Restore")
	}
}

func TestPersister_RestoreError(t *testing.T) {
	repo := &mockObjectRepo{
		loadAllFn: func(context.Context) ([]model.Object, error) {
			return nil, errors.New("relation does not exist")
		},
	}
	p := NewPersister(&mockObjectTx{repo: repo}, 0, testLogger())
	g := graph.New(16, 0)
	defer g.Close()

	if err := p.Restore(context.Background(), g); err == nil {
		t.Error("Restore() должен вернуть ошибку")
	}
}
