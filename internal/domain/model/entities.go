// entities.go — сущности графа.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultIRCPort — порт сервера, если он не указан.
const DefaultIRCPort = 6667

// Server — сетевой узел IRC. Владеет каналами.
type Server struct {
	Entity
	Port int `json:"Port"`
}

// NewServer создаёт сервер без родителя.
func NewServer(name string, port int) *Server {
	return &Server{Entity: NewEntity(uuid.Nil, name), Port: port}
}

func (s *Server) Kind() Kind { return KindServer }

func (s *Server) Clone() Object {
	c := *s
	c.changes = nil
	return &c
}

// SetPort изменяет порт сервера.
func (s *Server) SetPort(v int) { setField(&s.Entity, FieldPort, &s.Port, v) }

// Channel — канал IRC на сервере. Владеет ботами.
type Channel struct {
	Entity
}

// NewChannel создаёт канал сервера.
func NewChannel(server uuid.UUID, name string) *Channel {
	return &Channel{Entity: NewEntity(server, name)}
}

func (c *Channel) Kind() Kind { return KindChannel }

func (c *Channel) Clone() Object {
	cp := *c
	cp.changes = nil
	return &cp
}

// Bot — удалённый участник канала, раздающий пакеты.
//
// Скорости хранятся в байтах в секунду.
type Bot struct {
	Entity
	InfoSlotCurrent  int       `json:"InfoSlotCurrent"`
	InfoSlotTotal    int       `json:"InfoSlotTotal"`
	InfoQueueCurrent int       `json:"InfoQueueCurrent"`
	InfoQueueTotal   int       `json:"InfoQueueTotal"`
	InfoSpeedCurrent float64   `json:"InfoSpeedCurrent"`
	InfoSpeedMin     float64   `json:"InfoSpeedMin"`
	InfoSpeedRecord  float64   `json:"InfoSpeedRecord"`
	QueuePosition    int       `json:"QueuePosition"`
	QueueTime        int       `json:"QueueTime"`
	LastMessage      string    `json:"LastMessage"`
	LastContact      time.Time `json:"LastContact"`

	// Speed — суммарная скорость активных частей файлов. Вычисляется графом.
	Speed float64 `json:"Speed"`
}

// NewBot создаёт бота канала.
func NewBot(channel uuid.UUID, name string) *Bot {
	return &Bot{Entity: NewEntity(channel, name)}
}

func (b *Bot) Kind() Kind { return KindBot }

func (b *Bot) Clone() Object {
	c := *b
	c.changes = nil
	return &c
}

// SetInfoSlots записывает пару "свободно/всего".
// Отрицательные значения игнорируются, свободные слоты не превышают общее число.
func (b *Bot) SetInfoSlots(current, total int) {
	if total < 0 {
		total = b.InfoSlotTotal
	}
	if current < 0 {
		current = b.InfoSlotCurrent
	}
	if current > total {
		current = total
	}
	setField(&b.Entity, FieldInfoSlotTotal, &b.InfoSlotTotal, total)
	setField(&b.Entity, FieldInfoSlotCurrent, &b.InfoSlotCurrent, current)
}

// SetInfoQueue записывает занятость очереди бота.
func (b *Bot) SetInfoQueue(current, total int) {
	if total < 0 {
		total = b.InfoQueueTotal
	}
	if current < 0 {
		current = b.InfoQueueCurrent
	}
	setField(&b.Entity, FieldInfoQueueTotal, &b.InfoQueueTotal, total)
	setField(&b.Entity, FieldInfoQueueCurrent, &b.InfoQueueCurrent, current)
}

func (b *Bot) SetInfoSpeedCurrent(v float64) {
	setField(&b.Entity, FieldInfoSpeedCurrent, &b.InfoSpeedCurrent, v)
}

func (b *Bot) SetInfoSpeedMin(v float64) { setField(&b.Entity, FieldInfoSpeedMin, &b.InfoSpeedMin, v) }

func (b *Bot) SetInfoSpeedRecord(v float64) {
	setField(&b.Entity, FieldInfoSpeedRecord, &b.InfoSpeedRecord, v)
}

// SetQueuePosition записывает позицию в очереди бота.
func (b *Bot) SetQueuePosition(v int) { setField(&b.Entity, FieldQueuePosition, &b.QueuePosition, v) }

// SetQueueTime записывает оценку ожидания в очереди, секунды.
func (b *Bot) SetQueueTime(v int) { setField(&b.Entity, FieldQueueTime, &b.QueueTime, v) }

func (b *Bot) SetLastMessage(v string) { setField(&b.Entity, FieldLastMessage, &b.LastMessage, v) }

func (b *Bot) SetLastContact(v time.Time) {
	if b.LastContact.Equal(v) {
		return
	}
	b.LastContact = v
	b.markChanged(FieldLastContact)
}

// Packet — файл, предлагаемый ботом. Ключ внутри бота — номер пакета.
type Packet struct {
	Entity
	ID            int       `json:"Id"`
	Size          int64     `json:"Size"`
	LastMentioned time.Time `json:"LastMentioned"`

	// Поля активной части файла. Вычисляются графом.
	PartGUID    uuid.UUID `json:"PartGuid"`
	Speed       float64   `json:"Speed"`
	CurrentSize int64     `json:"CurrentSize"`
	TimeMissing int64     `json:"TimeMissing"`
}

// NewPacket создаёт пакет бота.
func NewPacket(bot uuid.UUID, id int, name string) *Packet {
	return &Packet{Entity: NewEntity(bot, name), ID: id}
}

func (p *Packet) Kind() Kind { return KindPacket }

func (p *Packet) Clone() Object {
	c := *p
	c.changes = nil
	return &c
}

func (p *Packet) SetSize(v int64) { setField(&p.Entity, FieldSize, &p.Size, v) }

func (p *Packet) SetLastMentioned(v time.Time) {
	if p.LastMentioned.Equal(v) {
		return
	}
	p.LastMentioned = v
	p.markChanged(FieldLastMentioned)
}

// File — цель загрузки на локальном диске. Владеет частями.
type File struct {
	Entity
	Size int64 `json:"Size"`

	// Агрегаты по частям. Вычисляются графом.
	CurrentSize int64   `json:"CurrentSize"`
	Speed       float64 `json:"Speed"`
	TimeMissing int64   `json:"TimeMissing"`
}

// NewFile создаёт файл загрузки.
func NewFile(name string, size int64) *File {
	return &File{Entity: NewEntity(uuid.Nil, name), Size: size}
}

func (f *File) Kind() Kind { return KindFile }

func (f *File) Clone() Object {
	c := *f
	c.changes = nil
	return &c
}

func (f *File) SetSize(v int64) { setField(&f.Entity, FieldSize, &f.Size, v) }

// FilePart — непрерывный диапазон байт [StartSize, StopSize), который
// сейчас принимается. PacketGUID назначает только граф.
type FilePart struct {
	Entity
	StartSize   int64     `json:"StartSize"`
	StopSize    int64     `json:"StopSize"`
	CurrentSize int64     `json:"CurrentSize"`
	Speed       float64   `json:"Speed"`
	TimeMissing int64     `json:"TimeMissing"`
	PacketGUID  uuid.UUID `json:"PacketGuid"`
}

// NewFilePart создаёт часть файла с диапазоном [start, stop).
func NewFilePart(file uuid.UUID, start, stop int64) *FilePart {
	return &FilePart{Entity: NewEntity(file, ""), StartSize: start, StopSize: stop, CurrentSize: start}
}

func (p *FilePart) Kind() Kind { return KindFilePart }

func (p *FilePart) Clone() Object {
	c := *p
	c.changes = nil
	return &c
}

// Overlaps сообщает, пересекаются ли диапазоны двух частей.
func (p *FilePart) Overlaps(o *FilePart) bool {
	return p.StartSize < o.StopSize && o.StartSize < p.StopSize
}

func (p *FilePart) SetCurrentSize(v int64) {
	setField(&p.Entity, FieldCurrentSize, &p.CurrentSize, v)
}

func (p *FilePart) SetSpeed(v float64) { setField(&p.Entity, FieldSpeed, &p.Speed, v) }

func (p *FilePart) SetTimeMissing(v int64) {
	setField(&p.Entity, FieldTimeMissing, &p.TimeMissing, v)
}

// Search — сохранённый именованный фильтр пакетов.
type Search struct {
	Entity

	// Results — число подходящих пакетов. Заполняется при отправке клиенту.
	Results int `json:"Results"`
}

// NewSearch создаёт сохранённый поиск.
func NewSearch(name string) *Search {
	return &Search{Entity: NewEntity(uuid.Nil, name)}
}

func (s *Search) Kind() Kind { return KindSearch }

func (s *Search) Clone() Object {
	c := *s
	c.changes = nil
	return &c
}
