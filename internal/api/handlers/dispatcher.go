// dispatcher.go — обработка запросов веб-клиента.
//
// Каждый запрос несёт общий секрет; при несовпадении запрос молча
// отбрасывается. Ошибки обработки касаются только своего запроса:
// они логируются, клиенту ничего не отправляется.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/broadcast"
	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/service"
)

// Ошибки разбора параметров запроса.
var (
	ErrBadRequest = errors.New("некорректные параметры запроса")
	ErrBadLink    = errors.New("некорректная xdcc-ссылка")
)

// xdccScheme — префикс ссылки ParseXdccLink.
const xdccScheme = "xdcc://"

// dataTypeFlot и dataTypeExternal — DataType ответов без объектов графа.
const (
	dataTypeFlot     = "Flot"
	dataTypeExternal = "ExternalSearch"
	dataTypeRequest  = "RequestType"
)

// Session — канал ответов одному клиенту. Реализуется *broadcast.Client.
type Session interface {
	Publish(deliveries ...broadcast.Delivery)
	Unicast(objs ...model.Object)
	Send(resp broadcast.Response)
	SetLastSearch(id uuid.UUID)
}

// SearchResolver — видимый набор поиска.
type SearchResolver interface {
	Resolve(searchID uuid.UUID) service.VisibleSet
}

// ExternalSearcher — поиск во внешнем каталоге.
type ExternalSearcher interface {
	Search(ctx context.Context, query string) []model.ExternalResult
}

// SnapshotSource — ряды графиков состояния.
type SnapshotSource interface {
	SnapshotsForDays(ctx context.Context, days int) ([]model.FlotSeries, error)
	Live(ctx context.Context) ([]model.FlotSeries, error)
}

// Commander — команды IRC-стороне.
type Commander interface {
	CloseServer(ctx context.Context, server string) error
}

// Dispatcher выполняет запросы веб-клиентов над графом.
type Dispatcher struct {
	graph     *graph.Graph
	search    SearchResolver
	external  ExternalSearcher
	snapshots SnapshotSource
	commands  Commander
	secret    []byte
	logger    *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
// secret — ожидаемое значение Password запроса (config.ExpectedSecret).
// commands может быть nil — тогда CloseServer ничего не делает.
func NewDispatcher(
	g *graph.Graph,
	search SearchResolver,
	external ExternalSearcher,
	snapshots SnapshotSource,
	commands Commander,
	secret string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		graph:     g,
		search:    search,
		external:  external,
		snapshots: snapshots,
		commands:  commands,
		secret:    []byte(secret),
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Handle разбирает и выполняет одно сообщение клиента.
func (d *Dispatcher) Handle(ctx context.Context, s Session, data []byte) {
	var req broadcast.Request
	if err := json.Unmarshal(data, &req); err != nil {
		requestsRejected.WithLabelValues("malformed").Inc()
		d.logger.Warn("Некорректное сообщение клиента", slog.String("error", err.Error()))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), d.secret) != 1 {
		requestsRejected.WithLabelValues("secret").Inc()
		d.logger.Warn("Запрос с неверным секретом отброшен", slog.String("type", req.Type.String()))
		return
	}

	if req.Type < broadcast.RequestAddServer || req.Type > broadcast.RequestParseXdccLink {
		requestsRejected.WithLabelValues("unknown").Inc()
		d.logger.Debug("Неизвестный вид запроса", slog.Int("type", int(req.Type)))
		return
	}
	requestsTotal.WithLabelValues(req.Type.String()).Inc()

	if err := d.dispatch(ctx, s, &req); err != nil {
		requestsRejected.WithLabelValues("failed").Inc()
		d.logger.Warn("Ошибка выполнения запроса",
			slog.String("type", req.Type.String()),
			slog.String("guid", req.Guid.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, s Session, req *broadcast.Request) error {
	switch req.Type {
	case broadcast.RequestAddServer:
		return d.addServer(req.Name)
	case broadcast.RequestRemoveServer:
		return d.remove(req.Guid, model.KindServer)
	case broadcast.RequestAddChannel:
		return d.addChannel(req.Guid, req.Name)
	case broadcast.RequestRemoveChannel:
		return d.remove(req.Guid, model.KindChannel)
	case broadcast.RequestActivateObject:
		return d.setEnabled(req.Guid, true)
	case broadcast.RequestDeactivateObject:
		return d.setEnabled(req.Guid, false)
	case broadcast.RequestSearch:
		d.searchPackets(s, req)
		return nil
	case broadcast.RequestSearchExternal:
		d.searchExternal(ctx, s, req)
		return nil
	case broadcast.RequestAddSearch:
		return d.addSearch(req.Name)
	case broadcast.RequestRemoveSearch:
		return d.remove(req.Guid, model.KindSearch)
	case broadcast.RequestSearches:
		s.Unicast(d.graph.All(model.KindSearch)...)
		return nil
	case broadcast.RequestServers:
		s.Unicast(d.graph.All(model.KindServer)...)
		return nil
	case broadcast.RequestChannelsFromServer:
		d.childrenOf(s, req.Guid, model.KindChannel)
		return nil
	case broadcast.RequestPacketsFromBot:
		d.childrenOf(s, req.Guid, model.KindPacket)
		return nil
	case broadcast.RequestLiveSnapshot:
		return d.liveSnapshot(ctx, s)
	case broadcast.RequestSnapshots:
		return d.snapshotsFor(ctx, s, req.Name)
	case broadcast.RequestFiles:
		s.Unicast(d.graph.All(model.KindFile)...)
		return nil
	case broadcast.RequestCloseServer:
		return d.closeServer(ctx, req)
	case broadcast.RequestParseXdccLink:
		return d.parseXdccLink(req.Name)
	}
	return nil
}

// --- Изменение графа ---

func (d *Dispatcher) addServer(addr string) error {
	host, port, err := ParseServerAddress(addr)
	if err != nil {
		return err
	}

	_, created, err := graph.Ensure(d.graph, model.NewServer(host, port))
	if err != nil {
		return fmt.Errorf("добавление сервера %q: %w", host, err)
	}
	if !created {
		return nil
	}
	d.logger.Info("Сервер добавлен", slog.String("server", host), slog.Int("port", port))
	return nil
}

func (d *Dispatcher) addChannel(serverID uuid.UUID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: пустое имя канала", ErrBadRequest)
	}

	if _, _, err := graph.Ensure(d.graph, model.NewChannel(serverID, name)); err != nil {
		return fmt.Errorf("добавление канала %q: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) addSearch(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: пустое имя поиска", ErrBadRequest)
	}

	if _, _, err := graph.Ensure(d.graph, model.NewSearch(name)); err != nil {
		return fmt.Errorf("добавление поиска %q: %w", name, err)
	}
	return nil
}

// remove удаляет объект, только если он ожидаемого вида.
func (d *Dispatcher) remove(id uuid.UUID, kind model.Kind) error {
	obj, ok := d.graph.Get(id)
	if !ok {
		return fmt.Errorf("удаление %s %s: %w", kind, id, graph.ErrNotFound)
	}
	if obj.Kind() != kind {
		return fmt.Errorf("удаление %s %s: объект вида %s: %w", kind, id, obj.Kind(), graph.ErrKindMismatch)
	}
	return d.graph.Remove(id)
}

// setEnabled включает или выключает объект. Дочерние объекты не затрагиваются.
func (d *Dispatcher) setEnabled(id uuid.UUID, enabled bool) error {
	_, err := d.graph.Update(id, func(obj model.Object) {
		obj.Base().SetEnabled(enabled)
	})
	return err
}

// --- Ответы клиенту ---

// searchPackets отправляет результаты поиска, затем SearchComplete,
// затем сам сохранённый поиск, чтобы клиент обновил счётчик результатов.
func (d *Dispatcher) searchPackets(s Session, req *broadcast.Request) {
	s.SetLastSearch(req.Guid)
	s.Unicast(d.search.Resolve(req.Guid).Objects()...)
	s.Send(searchComplete(req.Type))

	if obj, ok := d.graph.Get(req.Guid); ok && obj.Kind() == model.KindSearch {
		s.Publish(broadcast.Delivery{Type: broadcast.ResponseObjectChanged, Object: obj})
	}
}

// searchExternal ищет во внешнем каталоге по имени сохранённого поиска
// или по имени из запроса.
func (d *Dispatcher) searchExternal(ctx context.Context, s Session, req *broadcast.Request) {
	query := req.Name
	if stored, ok := d.graph.Get(req.Guid); ok && stored.Kind() == model.KindSearch {
		query = stored.Base().Name
	}

	for _, result := range d.external.Search(ctx, query) {
		s.Send(broadcast.Response{
			Type:     broadcast.ResponseObjectAdded,
			DataType: dataTypeExternal,
			Data:     result,
		})
	}
	s.Send(searchComplete(req.Type))
}

// childrenOf отправляет дочерние объекты родителя, затем сам родитель.
func (d *Dispatcher) childrenOf(s Session, parentID uuid.UUID, kind model.Kind) {
	var children []model.Object
	for _, obj := range d.graph.Children(parentID) {
		if obj.Kind() == kind {
			children = append(children, obj)
		}
	}
	s.Unicast(children...)

	if parent, ok := d.graph.Get(parentID); ok {
		s.Publish(broadcast.Delivery{Type: broadcast.ResponseObjectChanged, Object: parent})
	}
}

func (d *Dispatcher) liveSnapshot(ctx context.Context, s Session) error {
	series, err := d.snapshots.Live(ctx)
	if err != nil {
		return fmt.Errorf("текущее состояние: %w", err)
	}
	s.Send(broadcast.Response{Type: broadcast.ResponseLiveSnapshot, DataType: dataTypeFlot, Data: series})
	return nil
}

// snapshotsFor — ряды за окно; days — знаковое смещение в днях, например "-7".
func (d *Dispatcher) snapshotsFor(ctx context.Context, s Session, days string) error {
	n, err := strconv.Atoi(strings.TrimSpace(days))
	if err != nil {
		return fmt.Errorf("%w: смещение в днях %q", ErrBadRequest, days)
	}
	series, err := d.snapshots.SnapshotsForDays(ctx, n)
	if err != nil {
		return fmt.Errorf("ряды состояния за %d дн.: %w", n, err)
	}
	s.Send(broadcast.Response{Type: broadcast.ResponseSnapshots, DataType: dataTypeFlot, Data: series})
	return nil
}

// closeServer просит IRC-сторону закрыть соединение. Сервер задаётся
// идентификатором, а если его нет в графе — именем из запроса.
func (d *Dispatcher) closeServer(ctx context.Context, req *broadcast.Request) error {
	name := req.Name
	if obj, ok := d.graph.Get(req.Guid); ok && obj.Kind() == model.KindServer {
		name = obj.Base().Name
	}
	if name == "" {
		return fmt.Errorf("%w: сервер не указан", ErrBadRequest)
	}
	if d.commands == nil {
		d.logger.Debug("Приём IRC-событий отключён, CloseServer пропущен", slog.String("server", name))
		return nil
	}
	return d.commands.CloseServer(ctx, name)
}

func searchComplete(t broadcast.RequestType) broadcast.Response {
	return broadcast.Response{Type: broadcast.ResponseSearchComplete, DataType: dataTypeRequest, Data: t}
}

// --- Разбор параметров ---

// ParseServerAddress разбирает "host" или "host:port". Порт по умолчанию 6667.
func ParseServerAddress(addr string) (string, int, error) {
	addr = strings.TrimSpace(addr)
	host, portStr, found := strings.Cut(addr, ":")
	if host == "" {
		return "", 0, fmt.Errorf("%w: пустое имя сервера", ErrBadRequest)
	}
	if !found {
		return host, model.DefaultIRCPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: порт %q", ErrBadRequest, portStr)
	}
	return host, port, nil
}

// XdccLink — разобранная ссылка xdcc://server/network/#channel/bot/#id/name.
type XdccLink struct {
	Server   string
	Channel  string
	Bot      string
	PacketID int
	Name     string
}

// ParseXdccLink разбирает ссылку. Второе поле пути не используется.
func ParseXdccLink(link string) (XdccLink, error) {
	link = strings.TrimSpace(link)
	if len(link) < len(xdccScheme) || !strings.EqualFold(link[:len(xdccScheme)], xdccScheme) {
		return XdccLink{}, fmt.Errorf("%w: ожидается префикс %s", ErrBadLink, xdccScheme)
	}

	fields := strings.Split(link[len(xdccScheme):], "/")
	if len(fields) < 6 {
		return XdccLink{}, fmt.Errorf("%w: %d полей вместо 6", ErrBadLink, len(fields))
	}

	idStr, ok := strings.CutPrefix(fields[4], "#")
	if !ok {
		return XdccLink{}, fmt.Errorf("%w: номер пакета %q без #", ErrBadLink, fields[4])
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		return XdccLink{}, fmt.Errorf("%w: номер пакета %q", ErrBadLink, fields[4])
	}

	out := XdccLink{
		Server:   fields[0],
		Channel:  fields[2],
		Bot:      fields[3],
		PacketID: id,
		Name:     fields[5],
	}
	if out.Server == "" || out.Channel == "" || out.Bot == "" {
		return XdccLink{}, fmt.Errorf("%w: пустой сервер, канал или бот", ErrBadLink)
	}
	return out, nil
}

// parseXdccLink создаёт недостающие сервер, канал, бота и пакет.
// Сервер, канал и пакет включаются.
func (d *Dispatcher) parseXdccLink(raw string) error {
	link, err := ParseXdccLink(raw)
	if err != nil {
		return err
	}

	server, _, err := graph.Ensure(d.graph, model.NewServer(link.Server, model.DefaultIRCPort))
	if err != nil {
		return fmt.Errorf("создание сервера %q: %w", link.Server, err)
	}
	if err := d.setEnabled(server.GUID, true); err != nil {
		return err
	}

	channel, _, err := graph.Ensure(d.graph, model.NewChannel(server.GUID, link.Channel))
	if err != nil {
		return fmt.Errorf("создание канала %q: %w", link.Channel, err)
	}
	if err := d.setEnabled(channel.GUID, true); err != nil {
		return err
	}

	bot, _, err := graph.Ensure(d.graph, model.NewBot(channel.GUID, link.Bot))
	if err != nil {
		return fmt.Errorf("создание бота %q: %w", link.Bot, err)
	}

	packet, _, err := graph.Ensure(d.graph, model.NewPacket(bot.GUID, link.PacketID, link.Name))
	if err != nil {
		return fmt.Errorf("создание пакета #%d: %w", link.PacketID, err)
	}
	if err := d.setEnabled(packet.GUID, true); err != nil {
		return err
	}

	d.logger.Info("Ссылка xdcc добавлена",
		slog.String("server", link.Server),
		slog.String("channel", link.Channel),
		slog.String("bot", link.Bot),
		slog.Int("packet", link.PacketID),
	)
	return nil
}
