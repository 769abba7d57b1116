// object.go — общая часть доменных моделей XG: серверы, каналы, боты,
// пакеты, файлы и их части, сохранённые поиски и уведомления.
// Все сущности встраивают Entity и изменяются только через сеттеры,
// которые фиксируют набор изменённых полей. Набор забирает graph.Graph
// после каждой мутации и превращает его в событие Changed.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind — вид сущности графа. Закрытый набор значений.
type Kind int

// Виды сущностей.
const (
	KindServer Kind = iota + 1
	KindChannel
	KindBot
	KindPacket
	KindFile
	KindFilePart
	KindSearch
	KindNotification
)

// String возвращает имя вида в том виде, в котором его ждёт клиент (DataType).
func (k Kind) String() string {
	switch k {
	case KindServer:
		return "Server"
	case KindChannel:
		return "Channel"
	case KindBot:
		return "Bot"
	case KindPacket:
		return "Packet"
	case KindFile:
		return "File"
	case KindFilePart:
		return "FilePart"
	case KindSearch:
		return "Search"
	case KindNotification:
		return "Notification"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParentKind возвращает вид обязательного родителя.
// Ноль — сущность не имеет родителя.
func (k Kind) ParentKind() Kind {
	switch k {
	case KindChannel:
		return KindServer
	case KindBot:
		return KindChannel
	case KindPacket:
		return KindBot
	case KindFilePart:
		return KindFile
	default:
		return 0
	}
}

// Имена полей, попадающие в набор изменений.
const (
	FieldName             = "Name"
	FieldEnabled          = "Enabled"
	FieldConnected        = "Connected"
	FieldPort             = "Port"
	FieldInfoSlotCurrent  = "InfoSlotCurrent"
	FieldInfoSlotTotal    = "InfoSlotTotal"
	FieldInfoQueueCurrent = "InfoQueueCurrent"
	FieldInfoQueueTotal   = "InfoQueueTotal"
	FieldInfoSpeedCurrent = "InfoSpeedCurrent"
	FieldInfoSpeedMin     = "InfoSpeedMin"
	FieldInfoSpeedRecord  = "InfoSpeedRecord"
	FieldQueuePosition    = "QueuePosition"
	FieldQueueTime        = "QueueTime"
	FieldLastMessage      = "LastMessage"
	FieldLastContact      = "LastContact"
	FieldSize             = "Size"
	FieldLastMentioned    = "LastMentioned"
	FieldStartSize        = "StartSize"
	FieldStopSize         = "StopSize"
	FieldCurrentSize      = "CurrentSize"
	FieldSpeed            = "Speed"
	FieldTimeMissing      = "TimeMissing"
	FieldPacketGUID       = "PacketGuid"
)

// Object — общий контракт сущностей графа.
type Object interface {
	// Kind возвращает вид сущности.
	Kind() Kind
	// Base возвращает общую часть сущности.
	Base() *Entity
	// Clone возвращает независимую копию без накопленных изменений.
	Clone() Object
}

// Entity — общая часть всех сущностей: идентичность, владелец, флаги.
type Entity struct {
	GUID       uuid.UUID `json:"Guid"`
	ParentGUID uuid.UUID `json:"ParentGuid"`
	Name       string    `json:"Name"`
	Enabled    bool      `json:"Enabled"`
	Connected  bool      `json:"Connected"`

	changes []string
}

// NewEntity создаёт Entity с новым идентификатором.
func NewEntity(parent uuid.UUID, name string) Entity {
	return Entity{GUID: uuid.New(), ParentGUID: parent, Name: name}
}

// Base реализует Object для всех типов, встраивающих Entity.
func (e *Entity) Base() *Entity { return e }

// SetName изменяет имя.
func (e *Entity) SetName(v string) { setField(e, FieldName, &e.Name, v) }

// SetEnabled изменяет флаг Enabled.
func (e *Entity) SetEnabled(v bool) { setField(e, FieldEnabled, &e.Enabled, v) }

// SetConnected изменяет флаг Connected.
// Для пакетов значение согласуется графом с наличием активной части файла.
func (e *Entity) SetConnected(v bool) { setField(e, FieldConnected, &e.Connected, v) }

// TakeChanges возвращает изменённые поля в порядке записи и очищает набор.
func (e *Entity) TakeChanges() []string {
	changes := e.changes
	e.changes = nil
	return changes
}

// DropChange убирает поле из набора изменений.
func (e *Entity) DropChange(field string) {
	for i, f := range e.changes {
		if f == field {
			e.changes = append(e.changes[:i], e.changes[i+1:]...)
			return
		}
	}
}

func (e *Entity) markChanged(field string) {
	for _, f := range e.changes {
		if f == field {
			return
		}
	}
	e.changes = append(e.changes, field)
}

// setField записывает значение и отмечает поле, только если значение изменилось.
func setField[T comparable](e *Entity, field string, dst *T, v T) {
	if *dst == v {
		return
	}
	*dst = v
	e.markChanged(field)
}
