package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// ObjectRepository — хранение сущностей графа.
// FilePart и Notification не хранятся; Connected не сохраняется.
type ObjectRepository interface {
	// LoadAll возвращает все сохранённые объекты, родители раньше детей.
	LoadAll(ctx context.Context) ([]model.Object, error)
	// Upsert создаёт или обновляет объект.
	Upsert(ctx context.Context, obj model.Object) error
	// Delete удаляет объект (дети удаляются каскадно).
	Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error
	// ServerByName ищет сервер по имени без учёта регистра.
	ServerByName(ctx context.Context, name string) (*model.Server, error)
	// SearchByName ищет сохранённый поиск по имени без учёта регистра.
	SearchByName(ctx context.Context, name string) (*model.Search, error)
}

// objectRepo — реализация ObjectRepository.
type objectRepo struct {
	db DBTX
}

// NewObjectRepository создаёт репозиторий объектов графа.
func NewObjectRepository(db DBTX) ObjectRepository {
	return &objectRepo{db: db}
}

// Persistable сообщает, хранится ли вид объекта в БД.
func Persistable(kind model.Kind) bool {
	_, ok := tables[kind]
	return ok
}

var tables = map[model.Kind]string{
	model.KindServer:  "servers",
	model.KindChannel: "channels",
	model.KindBot:     "bots",
	model.KindPacket:  "packets",
	model.KindFile:    "files",
	model.KindSearch:  "searches",
}

const (
	selectServers  = `SELECT guid, name, enabled, port FROM servers`
	selectChannels = `SELECT guid, server_guid, name, enabled FROM channels`
	selectBots     = `
		SELECT guid, channel_guid, name, enabled,
			info_slot_current, info_slot_total, info_queue_current, info_queue_total,
			info_speed_current, info_speed_min, info_speed_record,
			queue_position, queue_time, last_message, last_contact
		FROM bots`
	selectPackets  = `SELECT guid, bot_guid, packet_id, name, enabled, size, last_mentioned FROM packets`
	selectFiles    = `SELECT guid, name, enabled, size FROM files`
	selectSearches = `SELECT guid, name, enabled FROM searches`
)

func (r *objectRepo) LoadAll(ctx context.Context) ([]model.Object, error) {
	var result []model.Object

	steps := []struct {
		kind  model.Kind
		query string
		scan  func(pgx.Row) (model.Object, error)
	}{
		{model.KindServer, selectServers + ` ORDER BY created_at`, scanServerRow},
		{model.KindChannel, selectChannels + ` ORDER BY name`, scanChannelRow},
		{model.KindBot, selectBots + ` ORDER BY name`, scanBotRow},
		{model.KindPacket, selectPackets + ` ORDER BY packet_id`, scanPacketRow},
		{model.KindFile, selectFiles + ` ORDER BY name`, scanFileRow},
		{model.KindSearch, selectSearches + ` ORDER BY created_at`, scanSearchRow},
	}

	for _, step := range steps {
		rows, err := r.db.Query(ctx, step.query)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки %s: %w", tables[step.kind], err)
		}
		for rows.Next() {
			obj, err := step.scan(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("ошибка сканирования %s: %w", tables[step.kind], err)
			}
			result = append(result, obj)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("ошибка чтения %s: %w", tables[step.kind], err)
		}
	}

	return result, nil
}

func (r *objectRepo) Upsert(ctx context.Context, obj model.Object) error {
	var (
		query string
		args  []any
	)

	switch o := obj.(type) {
	case *model.Server:
		query = `
			INSERT INTO servers (guid, name, enabled, port)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (guid) DO UPDATE
			SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
				port = EXCLUDED.port, updated_at = NOW()`
		args = []any{o.GUID, o.Name, o.Enabled, o.Port}
	case *model.Channel:
		query = `
			INSERT INTO channels (guid, server_guid, name, enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (guid) DO UPDATE
			SET name = EXCLUDED.name, enabled = EXCLUDED.enabled, updated_at = NOW()`
		args = []any{o.GUID, o.ParentGUID, o.Name, o.Enabled}
	case *model.Bot:
		query = `
			INSERT INTO bots (guid, channel_guid, name, enabled,
				info_slot_current, info_slot_total, info_queue_current, info_queue_total,
				info_speed_current, info_speed_min, info_speed_record,
				queue_position, queue_time, last_message, last_contact)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (guid) DO UPDATE
			SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
				info_slot_current = EXCLUDED.info_slot_current,
				info_slot_total = EXCLUDED.info_slot_total,
				info_queue_current = EXCLUDED.info_queue_current,
				info_queue_total = EXCLUDED.info_queue_total,
				info_speed_current = EXCLUDED.info_speed_current,
				info_speed_min = EXCLUDED.info_speed_min,
				info_speed_record = EXCLUDED.info_speed_record,
				queue_position = EXCLUDED.queue_position,
				queue_time = EXCLUDED.queue_time,
				last_message = EXCLUDED.last_message,
				last_contact = EXCLUDED.last_contact,
				updated_at = NOW()`
		args = []any{o.GUID, o.ParentGUID, o.Name, o.Enabled,
			o.InfoSlotCurrent, o.InfoSlotTotal, o.InfoQueueCurrent, o.InfoQueueTotal,
			o.InfoSpeedCurrent, o.InfoSpeedMin, o.InfoSpeedRecord,
			o.QueuePosition, o.QueueTime, o.LastMessage, nullTime(o.LastContact)}
	case *model.Packet:
		query = `
			INSERT INTO packets (guid, bot_guid, packet_id, name, enabled, size, last_mentioned)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (guid) DO UPDATE
			SET packet_id = EXCLUDED.packet_id, name = EXCLUDED.name,
				enabled = EXCLUDED.enabled, size = EXCLUDED.size,
				last_mentioned = EXCLUDED.last_mentioned, updated_at = NOW()`
		args = []any{o.GUID, o.ParentGUID, o.ID, o.Name, o.Enabled, o.Size, nullTime(o.LastMentioned)}
	case *model.File:
		query = `
			INSERT INTO files (guid, name, enabled, size)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (guid) DO UPDATE
			SET name = EXCLUDED.name, enabled = EXCLUDED.enabled,
				size = EXCLUDED.size, updated_at = NOW()`
		args = []any{o.GUID, o.Name, o.Enabled, o.Size}
	case *model.Search:
		query = `
			INSERT INTO searches (guid, name, enabled)
			VALUES ($1, $2, $3)
			ON CONFLICT (guid) DO UPDATE
			SET name = EXCLUDED.name, enabled = EXCLUDED.enabled`
		args = []any{o.GUID, o.Name, o.Enabled}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, obj.Kind())
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", ErrConflict, obj.Kind(), obj.Base().Name)
		}
		return fmt.Errorf("ошибка сохранения %s: %w", obj.Kind(), err)
	}
	return nil
}

func (r *objectRepo) Delete(ctx context.Context, kind model.Kind, id uuid.UUID) error {
	table, ok := tables[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM `+table+` WHERE guid = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *objectRepo) ServerByName(ctx context.Context, name string) (*model.Server, error) {
	row := r.db.QueryRow(ctx, selectServers+` WHERE LOWER(name) = $1`, strings.ToLower(name))
	obj, err := scanServerRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сервера: %w", err)
	}
	return obj.(*model.Server), nil
}

func (r *objectRepo) SearchByName(ctx context.Context, name string) (*model.Search, error) {
	row := r.db.QueryRow(ctx, selectSearches+` WHERE LOWER(name) = $1`, strings.ToLower(name))
	obj, err := scanSearchRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения поиска: %w", err)
	}
	return obj.(*model.Search), nil
}

// --- Сканирование строк ---

func scanServerRow(row pgx.Row) (model.Object, error) {
	s := &model.Server{}
	if err := row.Scan(&s.GUID, &s.Name, &s.Enabled, &s.Port); err != nil {
		return nil, err
	}
	return s, nil
}

func scanChannelRow(row pgx.Row) (model.Object, error) {
	c := &model.Channel{}
	if err := row.Scan(&c.GUID, &c.ParentGUID, &c.Name, &c.Enabled); err != nil {
		return nil, err
	}
	return c, nil
}

func scanBotRow(row pgx.Row) (model.Object, error) {
	b := &model.Bot{}
	var lastContact *time.Time
	if err := row.Scan(
		&b.GUID, &b.ParentGUID, &b.Name, &b.Enabled,
		&b.InfoSlotCurrent, &b.InfoSlotTotal, &b.InfoQueueCurrent, &b.InfoQueueTotal,
		&b.InfoSpeedCurrent, &b.InfoSpeedMin, &b.InfoSpeedRecord,
		&b.QueuePosition, &b.QueueTime, &b.LastMessage, &lastContact,
	); err != nil {
		return nil, err
	}
	b.LastContact = fromNullTime(lastContact)
	return b, nil
}

func scanPacketRow(row pgx.Row) (model.Object, error) {
	p := &model.Packet{}
	var lastMentioned *time.Time
	if err := row.Scan(&p.GUID, &p.ParentGUID, &p.ID, &p.Name, &p.Enabled, &p.Size, &lastMentioned); err != nil {
		return nil, err
	}
	p.LastMentioned = fromNullTime(lastMentioned)
	return p, nil
}

func scanFileRow(row pgx.Row) (model.Object, error) {
	f := &model.File{}
	if err := row.Scan(&f.GUID, &f.Name, &f.Enabled, &f.Size); err != nil {
		return nil, err
	}
	return f, nil
}

func scanSearchRow(row pgx.Row) (model.Object, error) {
	s := &model.Search{}
	if err := row.Scan(&s.GUID, &s.Name, &s.Enabled); err != nil {
		return nil, err
	}
	return s, nil
}
