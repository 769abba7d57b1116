// graph.go — хранилище объектов XG в памяти.
// Graph владеет сущностями и связями между ними. Любая мутация и
// порождаемые ею события выполняются под одной блокировкой, поэтому
// потребитель событий никогда не видит частично изменённый объект.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

var (
	// ErrNotFound — объект не найден.
	ErrNotFound = errors.New("объект не найден")
	// ErrDuplicate — объект с таким идентификатором или ключом уже есть.
	ErrDuplicate = errors.New("объект уже существует")
	// ErrParentMissing — родитель не существует.
	ErrParentMissing = errors.New("родительский объект отсутствует")
	// ErrKindMismatch — объект или родитель неподходящего вида.
	ErrKindMismatch = errors.New("неподходящий вид объекта")
	// ErrPartOverlap — диапазон части пересекается с другой частью файла.
	ErrPartOverlap = errors.New("часть файла пересекается с другой частью")
)

// Graph — потокобезопасное хранилище сущностей с потоком событий.
type Graph struct {
	mu       sync.RWMutex
	objects  map[uuid.UUID]model.Object
	children map[uuid.UUID][]uuid.UUID
	// packet → активная часть файла
	parts map[uuid.UUID]uuid.UUID

	notifications     []uuid.UUID
	notificationLimit int

	queue  *eventQueue
	silent bool
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New создаёт пустой граф. buffer — ёмкость канала событий,
// notificationLimit — максимум хранимых уведомлений (0 — без ограничения).
func New(buffer, notificationLimit int) *Graph {
	if buffer < 0 {
		buffer = 0
	}
	g := &Graph{
		objects:           make(map[uuid.UUID]model.Object),
		children:          make(map[uuid.UUID][]uuid.UUID),
		parts:             make(map[uuid.UUID]uuid.UUID),
		notificationLimit: notificationLimit,
		queue:             newEventQueue(),
		events:            make(chan Event, buffer),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	go g.pump()
	return g
}

// Events возвращает поток событий. Канал закрывается после Close.
// У потока должен быть ровно один потребитель.
func (g *Graph) Events() <-chan Event {
	return g.events
}

// Close останавливает выдачу событий и закрывает канал.
// Недоставленные события отбрасываются.
func (g *Graph) Close() {
	g.once.Do(func() {
		g.queue.close()
		close(g.stop)
	})
	<-g.done
}

func (g *Graph) pump() {
	defer close(g.done)
	defer close(g.events)
	for {
		ev, ok := g.queue.pop()
		if !ok {
			return
		}
		select {
		case g.events <- ev:
		case <-g.stop:
			return
		}
	}
}

// emit вызывается под g.mu.
func (g *Graph) emit(t EventType, obj model.Object, fields []string) {
	if g.silent {
		return
	}
	g.queue.push(Event{Type: t, Object: g.view(obj), Fields: fields})
}

// Add добавляет объект в граф и публикует Added.
// Граф становится владельцем obj: дальнейшие изменения только через Update.
func (g *Graph) Add(obj model.Object) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.insert(obj); err != nil {
		return err
	}
	g.emit(EventAdded, obj, nil)

	if obj.Kind() == model.KindNotification {
		g.notifications = append(g.notifications, obj.Base().GUID)
		for g.notificationLimit > 0 && len(g.notifications) > g.notificationLimit {
			oldest := g.notifications[0]
			g.notifications = g.notifications[1:]
			if old, ok := g.objects[oldest]; ok {
				g.removeOne(old)
			}
		}
	}
	return nil
}

// insert проверяет инварианты и сохраняет объект. Вызывается под g.mu.
func (g *Graph) insert(obj model.Object) error {
	e := obj.Base()
	if e.GUID == uuid.Nil {
		return fmt.Errorf("добавление %s: пустой идентификатор: %w", obj.Kind(), ErrKindMismatch)
	}
	if _, exists := g.objects[e.GUID]; exists {
		return fmt.Errorf("добавление %s %s: %w", obj.Kind(), e.GUID, ErrDuplicate)
	}

	parentKind := obj.Kind().ParentKind()
	switch {
	case parentKind == 0 && e.ParentGUID != uuid.Nil:
		return fmt.Errorf("добавление %s %s: родитель не ожидается: %w", obj.Kind(), e.GUID, ErrKindMismatch)
	case parentKind != 0:
		parent, ok := g.objects[e.ParentGUID]
		if !ok {
			return fmt.Errorf("добавление %s %s: родитель %s: %w", obj.Kind(), e.GUID, e.ParentGUID, ErrParentMissing)
		}
		if parent.Kind() != parentKind {
			return fmt.Errorf("добавление %s %s: родитель вида %s: %w", obj.Kind(), e.GUID, parent.Kind(), ErrKindMismatch)
		}
	}
	if other, ok := g.sibling(obj); ok {
		return fmt.Errorf("добавление %s %q: занято объектом %s: %w", obj.Kind(), e.Name, other.Base().GUID, ErrDuplicate)
	}

	if part, ok := obj.(*model.FilePart); ok {
		if part.StopSize < part.StartSize {
			return fmt.Errorf("добавление части %s: неверный диапазон: %w", e.GUID, ErrPartOverlap)
		}
		for _, id := range g.children[e.ParentGUID] {
			if other, ok := g.objects[id].(*model.FilePart); ok && other.Overlaps(part) {
				return fmt.Errorf("добавление части %s: пересечение с %s: %w", e.GUID, id, ErrPartOverlap)
			}
		}
		if part.PacketGUID != uuid.Nil {
			if _, busy := g.parts[part.PacketGUID]; busy {
				part.PacketGUID = uuid.Nil
			} else if _, ok := g.objects[part.PacketGUID].(*model.Packet); !ok {
				part.PacketGUID = uuid.Nil
			}
		}
	}
	if p, ok := obj.(*model.Packet); ok {
		p.Connected = false
	}

	e.TakeChanges()
	g.objects[e.GUID] = obj
	if e.ParentGUID != uuid.Nil {
		g.children[e.ParentGUID] = append(g.children[e.ParentGUID], e.GUID)
	}
	if part, ok := obj.(*model.FilePart); ok && part.PacketGUID != uuid.Nil {
		g.parts[part.PacketGUID] = e.GUID
		if p, ok := g.objects[part.PacketGUID].(*model.Packet); ok {
			p.Connected = true
			g.emit(EventChanged, p, []string{model.FieldConnected})
		}
	}
	return nil
}

// Ensure атомарно находит или добавляет объект. Существующим считается
// объект того же вида с тем же ключом: имя без учёта регистра у того же
// родителя, для пакета — номер у того же бота. created сообщает, был ли
// добавлен obj; иначе возвращается копия найденного объекта.
func Ensure[T model.Object](g *Graph, obj T) (result T, created bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if other, ok := g.sibling(obj); ok {
		existing, ok := g.view(other).(T)
		if !ok {
			return result, false, fmt.Errorf("поиск %s: %w", obj.Kind(), ErrKindMismatch)
		}
		return existing, false, nil
	}
	if err := g.insert(obj); err != nil {
		return result, false, err
	}
	g.emit(EventAdded, obj, nil)
	return g.view(obj).(T), true, nil
}

// sibling ищет объект с тем же ключом уникальности, что и obj.
// Серверы и поиски уникальны по имени в графе, каналы и боты по имени
// у родителя, пакеты по номеру у бота. Вызывается под g.mu.
func (g *Graph) sibling(obj model.Object) (model.Object, bool) {
	e := obj.Base()
	same := func(other model.Object) bool {
		if other.Kind() != obj.Kind() || other.Base().GUID == e.GUID {
			return false
		}
		if p, ok := obj.(*model.Packet); ok {
			return other.(*model.Packet).ID == p.ID
		}
		return strings.EqualFold(other.Base().Name, e.Name)
	}

	switch obj.Kind() {
	case model.KindServer, model.KindSearch:
		for _, other := range g.objects {
			if same(other) {
				return other, true
			}
		}
	case model.KindChannel, model.KindBot, model.KindPacket:
		for _, id := range g.children[e.ParentGUID] {
			if other := g.objects[id]; same(other) {
				return other, true
			}
		}
	}
	return nil, false
}

// Remove удаляет объект вместе с потомками. Потомки удаляются первыми,
// каждый с отдельным событием Removed.
func (g *Graph) Remove(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	obj, ok := g.objects[id]
	if !ok {
		return fmt.Errorf("удаление %s: %w", id, ErrNotFound)
	}
	for _, d := range g.descendants(id) {
		g.removeOne(g.objects[d])
	}
	g.removeOne(obj)
	return nil
}

// descendants возвращает потомков в порядке "сначала листья".
func (g *Graph) descendants(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, c := range g.children[id] {
		out = append(out, g.descendants(c)...)
		out = append(out, c)
	}
	return out
}

func (g *Graph) removeOne(obj model.Object) {
	e := obj.Base()

	switch o := obj.(type) {
	case *model.FilePart:
		if o.PacketGUID != uuid.Nil {
			g.detach(o)
		}
	case *model.Packet:
		if partID, ok := g.parts[e.GUID]; ok {
			if part, ok := g.objects[partID].(*model.FilePart); ok {
				g.detach(part)
			}
		}
	case *model.Notification:
		g.notifications = slices.DeleteFunc(g.notifications, func(n uuid.UUID) bool { return n == e.GUID })
	}

	delete(g.objects, e.GUID)
	delete(g.children, e.GUID)
	if e.ParentGUID != uuid.Nil {
		g.children[e.ParentGUID] = slices.DeleteFunc(g.children[e.ParentGUID], func(c uuid.UUID) bool {
			return c == e.GUID
		})
	}
	g.emit(EventRemoved, obj, nil)
}

// Update применяет fn к объекту и публикует Changed с изменёнными полями,
// а при изменении Enabled ещё и EnabledChanged. Возвращает изменённые поля.
//
// fn должна менять объект только через сеттеры. Идентичность и владелец
// объекта, а также Connected пакета, которым управляет граф, восстанавливаются.
func (g *Graph) Update(id uuid.UUID, fn func(model.Object)) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	obj, ok := g.objects[id]
	if !ok {
		return nil, fmt.Errorf("изменение %s: %w", id, ErrNotFound)
	}
	e := obj.Base()
	guid, parent := e.GUID, e.ParentGUID
	var packetGUID uuid.UUID
	if part, ok := obj.(*model.FilePart); ok {
		packetGUID = part.PacketGUID
	}

	fn(obj)

	e.GUID, e.ParentGUID = guid, parent
	switch o := obj.(type) {
	case *model.Packet:
		_, attached := g.parts[id]
		if o.Connected != attached {
			o.Connected = attached
			e.DropChange(model.FieldConnected)
		}
	case *model.FilePart:
		o.PacketGUID = packetGUID
	}

	changes := e.TakeChanges()
	if len(changes) == 0 {
		return nil, nil
	}
	g.emit(EventChanged, obj, changes)
	if slices.Contains(changes, model.FieldEnabled) {
		g.emit(EventEnabledChanged, obj, nil)
	}
	return changes, nil
}

// Modify — типизированная обёртка над Update.
func Modify[T model.Object](g *Graph, id uuid.UUID, fn func(T)) ([]string, error) {
	var mismatch error
	changes, err := g.Update(id, func(obj model.Object) {
		typed, ok := obj.(T)
		if !ok {
			mismatch = fmt.Errorf("изменение %s: объект вида %s: %w", id, obj.Kind(), ErrKindMismatch)
			return
		}
		fn(typed)
	})
	if err != nil {
		return nil, err
	}
	return changes, mismatch
}

// AttachPart связывает часть файла с пакетом, который её пишет.
// Прежние связи части и пакета разрываются. Пакет становится Connected.
func (g *Graph) AttachPart(partID, packetID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	part, ok := g.objects[partID].(*model.FilePart)
	if !ok {
		return fmt.Errorf("привязка части %s: %w", partID, ErrNotFound)
	}
	packet, ok := g.objects[packetID].(*model.Packet)
	if !ok {
		return fmt.Errorf("привязка части к пакету %s: %w", packetID, ErrNotFound)
	}
	if part.PacketGUID == packetID {
		return nil
	}
	if part.PacketGUID != uuid.Nil {
		g.detach(part)
	}
	if oldID, ok := g.parts[packetID]; ok {
		if old, ok := g.objects[oldID].(*model.FilePart); ok {
			g.detach(old)
		}
	}

	g.parts[packetID] = partID
	part.PacketGUID = packetID
	g.emit(EventChanged, part, []string{model.FieldPacketGUID})
	packet.Connected = true
	g.emit(EventChanged, packet, []string{model.FieldConnected})
	return nil
}

// DetachPart разрывает связь части с пакетом. Пакет перестаёт быть Connected.
func (g *Graph) DetachPart(partID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	part, ok := g.objects[partID].(*model.FilePart)
	if !ok {
		return fmt.Errorf("отвязка части %s: %w", partID, ErrNotFound)
	}
	if part.PacketGUID != uuid.Nil {
		g.detach(part)
	}
	return nil
}

func (g *Graph) detach(part *model.FilePart) {
	packetID := part.PacketGUID
	delete(g.parts, packetID)
	part.PacketGUID = uuid.Nil
	g.emit(EventChanged, part, []string{model.FieldPacketGUID})
	if packet, ok := g.objects[packetID].(*model.Packet); ok && packet.Connected {
		packet.Connected = false
		g.emit(EventChanged, packet, []string{model.FieldConnected})
	}
}

// Restore загружает сохранённое состояние без публикации событий.
// Родители должны предшествовать потомкам.
func (g *Graph) Restore(objs []model.Object) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.silent = true
	defer func() { g.silent = false }()
	for _, obj := range objs {
		if err := g.insert(obj); err != nil {
			return fmt.Errorf("восстановление графа: %w", err)
		}
	}
	return nil
}

// Get возвращает копию объекта с вычисленными агрегатами.
func (g *Graph) Get(id uuid.UUID) (model.Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	obj, ok := g.objects[id]
	if !ok {
		return nil, false
	}
	return g.view(obj), true
}

// Children возвращает копии прямых потомков в порядке добавления.
func (g *Graph) Children(id uuid.UUID) []model.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.children[id]
	out := make([]model.Object, 0, len(ids))
	for _, c := range ids {
		out = append(out, g.view(g.objects[c]))
	}
	return out
}

// All возвращает копии всех объектов вида kind.
func (g *Graph) All(kind model.Kind) []model.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.Object
	for _, obj := range g.objects {
		if obj.Kind() == kind {
			out = append(out, g.view(obj))
		}
	}
	return out
}

// Len возвращает число объектов в графе.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// ServerByName ищет сервер по имени без учёта регистра.
func (g *Graph) ServerByName(name string) (*model.Server, bool) {
	return findByName[*model.Server](g, uuid.Nil, model.KindServer, name)
}

// SearchByName ищет сохранённый поиск по имени без учёта регистра.
func (g *Graph) SearchByName(name string) (*model.Search, bool) {
	return findByName[*model.Search](g, uuid.Nil, model.KindSearch, name)
}

// FileByName ищет файл загрузки по имени.
func (g *Graph) FileByName(name string) (*model.File, bool) {
	return findByName[*model.File](g, uuid.Nil, model.KindFile, name)
}

// ChannelByName ищет канал сервера по имени без учёта регистра.
func (g *Graph) ChannelByName(server uuid.UUID, name string) (*model.Channel, bool) {
	return findByName[*model.Channel](g, server, model.KindChannel, name)
}

// BotByName ищет бота канала по имени без учёта регистра.
func (g *Graph) BotByName(channel uuid.UUID, name string) (*model.Bot, bool) {
	return findByName[*model.Bot](g, channel, model.KindBot, name)
}

// PacketByID ищет пакет бота по номеру.
func (g *Graph) PacketByID(bot uuid.UUID, id int) (*model.Packet, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, c := range g.children[bot] {
		if p, ok := g.objects[c].(*model.Packet); ok && p.ID == id {
			return g.view(p).(*model.Packet), true
		}
	}
	return nil, false
}

func findByName[T model.Object](g *Graph, parent uuid.UUID, kind model.Kind, name string) (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var zero T
	if parent != uuid.Nil {
		for _, c := range g.children[parent] {
			obj := g.objects[c]
			if obj.Kind() == kind && strings.EqualFold(obj.Base().Name, name) {
				return g.view(obj).(T), true
			}
		}
		return zero, false
	}
	for _, obj := range g.objects {
		if obj.Kind() == kind && strings.EqualFold(obj.Base().Name, name) {
			return g.view(obj).(T), true
		}
	}
	return zero, false
}

// view возвращает копию объекта с агрегатами. Вызывается под g.mu.
func (g *Graph) view(obj model.Object) model.Object {
	c := obj.Clone()
	switch v := c.(type) {
	case *model.Packet:
		v.PartGUID, v.Speed, v.CurrentSize, v.TimeMissing = uuid.Nil, 0, 0, 0
		if part := g.packetPart(v.GUID); part != nil {
			v.PartGUID = part.GUID
			v.Speed = part.Speed
			v.CurrentSize = part.CurrentSize
			v.TimeMissing = part.TimeMissing
		}
	case *model.Bot:
		v.Speed = 0
		for _, c := range g.children[v.GUID] {
			if part := g.packetPart(c); part != nil {
				v.Speed += part.Speed
			}
		}
	case *model.File:
		v.CurrentSize, v.Speed, v.TimeMissing = 0, 0, 0
		for _, c := range g.children[v.GUID] {
			part, ok := g.objects[c].(*model.FilePart)
			if !ok {
				continue
			}
			v.CurrentSize += part.CurrentSize - part.StartSize
			v.Speed += part.Speed
			v.TimeMissing = max(v.TimeMissing, part.TimeMissing)
		}
	}
	return c
}

func (g *Graph) packetPart(packetID uuid.UUID) *model.FilePart {
	partID, ok := g.parts[packetID]
	if !ok {
		return nil
	}
	part, _ := g.objects[partID].(*model.FilePart)
	return part
}
