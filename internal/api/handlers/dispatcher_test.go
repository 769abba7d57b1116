package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/broadcast"
	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/service"
)

const testSecret = "5ecret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Моки ---

// recordingSession записывает все ответы клиенту в порядке вызова.
type recordingSession struct {
	mu         sync.Mutex
	calls      []string
	lastSearch uuid.UUID
	unicast    []model.Object
	published  []broadcast.Delivery
	sent       []broadcast.Response
}

func (s *recordingSession) Publish(deliveries ...broadcast.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "publish")
	s.published = append(s.published, deliveries...)
}

func (s *recordingSession) Unicast(objs ...model.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "unicast")
	s.unicast = append(s.unicast, objs...)
}

func (s *recordingSession) Send(resp broadcast.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "send")
	s.sent = append(s.sent, resp)
}

func (s *recordingSession) SetLastSearch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "search")
	s.lastSearch = id
}

// mockExternal — мок ExternalSearcher.
type mockExternal struct {
	searchFn func(ctx context.Context, query string) []model.ExternalResult
	queries  []string
}

func (m *mockExternal) Search(ctx context.Context, query string) []model.ExternalResult {
	m.queries = append(m.queries, query)
	if m.searchFn != nil {
		return m.searchFn(ctx, query)
	}
	return nil
}

// mockSnapshots — мок SnapshotSource.
type mockSnapshots struct {
	forDaysFn func(ctx context.Context, days int) ([]model.FlotSeries, error)
	liveFn    func(ctx context.Context) ([]model.FlotSeries, error)
}

func (m *mockSnapshots) SnapshotsForDays(ctx context.Context, days int) ([]model.FlotSeries, error) {
	if m.forDaysFn != nil {
		return m.forDaysFn(ctx, days)
	}
	return nil, nil
}

func (m *mockSnapshots) Live(ctx context.Context) ([]model.FlotSeries, error) {
	if m.liveFn != nil {
		return m.liveFn(ctx)
	}
	return nil, nil
}

// mockCommander — мок Commander.
type mockCommander struct {
	closed []string
	err    error
}

func (m *mockCommander) CloseServer(_ context.Context, server string) error {
	m.closed = append(m.closed, server)
	return m.err
}

// --- Вспомогательные функции ---

type testEnv struct {
	graph     *graph.Graph
	external  *mockExternal
	snapshots *mockSnapshots
	commands  *mockCommander
	d         *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	g := graph.New(64, 0)
	t.Cleanup(g.Close)
	env := &testEnv{
		graph:     g,
		external:  &mockExternal{},
		snapshots: &mockSnapshots{},
		commands:  &mockCommander{},
	}
	env.d = NewDispatcher(g, service.NewSearchEngine(g), env.external, env.snapshots, env.commands, testSecret, testLogger())
	return env
}

// do отправляет запрос с верным секретом и возвращает ответы.
func (e *testEnv) do(t *testing.T, req broadcast.Request) *recordingSession {
	t.Helper()
	if req.Password == "" {
		req.Password = testSecret
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := &recordingSession{}
	e.d.Handle(t.Context(), s, data)
	return s
}

func (e *testEnv) mustAdd(t *testing.T, objs ...model.Object) {
	t.Helper()
	for _, obj := range objs {
		if err := e.graph.Add(obj); err != nil {
			t.Fatalf("Add(%s): %v", obj.Kind(), err)
		}
	}
}

func guids(objs []model.Object) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(objs))
	for _, o := range objs {
		out[o.Base().GUID] = true
	}
	return out
}

// --- Тесты ---

func TestHandle_WrongSecretIsSilent(t *testing.T) {
	env := newTestEnv(t)

	s := env.do(t, broadcast.Request{Type: broadcast.RequestAddServer, Name: "irc.example.org", Password: "guess"})
	if len(s.calls) != 0 {
		t.Errorf("клиенту отправлено %v", s.calls)
	}
	if env.graph.Len() != 0 {
		t.Error("запрос с неверным секретом изменил граф")
	}
}

func TestHandle_MalformedAndUnknownIgnored(t *testing.T) {
	env := newTestEnv(t)
	s := &recordingSession{}

	env.d.Handle(t.Context(), s, []byte(`{"Type":`))
	env.d.Handle(t.Context(), s, []byte(`{"Type":99,"Password":"`+testSecret+`"}`))
	if len(s.calls) != 0 {
		t.Errorf("клиенту отправлено %v", s.calls)
	}
}

func TestHandle_AddServer(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, broadcast.Request{Type: broadcast.RequestAddServer, Name: "irc.example.org:7000"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddServer, Name: "irc.example.org"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddServer, Name: "irc.other.org"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddServer, Name: "bad:port"})

	s, ok := env.graph.ServerByName("irc.example.org")
	if !ok || s.Port != 7000 {
		t.Fatalf("сервер = %+v, %v", s, ok)
	}
	other, ok := env.graph.ServerByName("irc.other.org")
	if !ok || other.Port != 6667 {
		t.Errorf("порт по умолчанию не применён: %+v", other)
	}
	if n := len(env.graph.All(model.KindServer)); n != 2 {
		t.Errorf("серверов = %d, ожидалось 2", n)
	}
}

func TestHandle_ChannelsAddRemove(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	env.mustAdd(t, server)

	env.do(t, broadcast.Request{Type: broadcast.RequestAddChannel, Guid: server.GUID, Name: "#chan"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddChannel, Guid: server.GUID, Name: "#CHAN"})
	channel, ok := env.graph.ChannelByName(server.GUID, "#chan")
	if !ok {
		t.Fatal("канал не создан")
	}
	if n := len(env.graph.Children(server.GUID)); n != 1 {
		t.Errorf("каналов = %d, ожидался 1", n)
	}

	// RemoveServer с идентификатором канала ничего не удаляет
	env.do(t, broadcast.Request{Type: broadcast.RequestRemoveServer, Guid: channel.GUID})
	if _, ok := env.graph.Get(channel.GUID); !ok {
		t.Fatal("канал удалён запросом RemoveServer")
	}

	env.do(t, broadcast.Request{Type: broadcast.RequestRemoveChannel, Guid: channel.GUID})
	if _, ok := env.graph.Get(channel.GUID); ok {
		t.Error("канал не удалён")
	}

	env.do(t, broadcast.Request{Type: broadcast.RequestRemoveServer, Guid: server.GUID})
	if env.graph.Len() != 0 {
		t.Errorf("после удаления сервера осталось %d объектов", env.graph.Len())
	}
}

func TestHandle_ActivateDoesNotCascade(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	bot := model.NewBot(channel.GUID, "Bot")
	env.mustAdd(t, server, channel, bot)

	env.do(t, broadcast.Request{Type: broadcast.RequestActivateObject, Guid: channel.GUID})
	env.do(t, broadcast.Request{Type: broadcast.RequestActivateObject, Guid: bot.GUID})
	env.do(t, broadcast.Request{Type: broadcast.RequestDeactivateObject, Guid: channel.GUID})

	c, _ := env.graph.Get(channel.GUID)
	b, _ := env.graph.Get(bot.GUID)
	if c.Base().Enabled {
		t.Error("канал остался включён")
	}
	if !b.Base().Enabled {
		t.Error("выключение канала выключило бота")
	}
}

func TestHandle_SearchSequence(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	bot := model.NewBot(channel.GUID, "Bot")
	match := model.NewPacket(bot.GUID, 1, "Foo Bar 2024")
	other := model.NewPacket(bot.GUID, 2, "Foo Baz")
	search := model.NewSearch("foo 2024")
	env.mustAdd(t, server, channel, bot, match, other, search)

	s := env.do(t, broadcast.Request{Type: broadcast.RequestSearch, Guid: search.GUID})

	want := []string{"search", "unicast", "send", "publish"}
	if len(s.calls) != len(want) {
		t.Fatalf("вызовы = %v, ожидалось %v", s.calls, want)
	}
	for i := range want {
		if s.calls[i] != want[i] {
			t.Fatalf("вызовы = %v, ожидалось %v", s.calls, want)
		}
	}
	if s.lastSearch != search.GUID {
		t.Errorf("lastSearch = %s", s.lastSearch)
	}
	got := guids(s.unicast)
	if len(got) != 2 || !got[match.GUID] || !got[bot.GUID] {
		t.Errorf("результаты = %v, ожидались пакет %s и бот %s", got, match.GUID, bot.GUID)
	}
	if s.sent[0].Type != broadcast.ResponseSearchComplete || s.sent[0].Data != broadcast.RequestSearch {
		t.Errorf("ожидался SearchComplete(Search), получено %+v", s.sent[0])
	}
	if d := s.published[0]; d.Type != broadcast.ResponseObjectChanged || d.Object.Base().GUID != search.GUID {
		t.Errorf("ожидался ObjectChanged поиска, получено %+v", d)
	}
}

func TestHandle_SearchUnknownIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	bot := model.NewBot(channel.GUID, "Bot")
	env.mustAdd(t, server, channel, bot, model.NewPacket(bot.GUID, 1, "Foo"))

	s := env.do(t, broadcast.Request{Type: broadcast.RequestSearch, Guid: uuid.New(), Name: "foo"})
	if len(s.unicast) != 0 {
		t.Errorf("неизвестный поиск вернул %d объектов", len(s.unicast))
	}
	if len(s.sent) != 1 || s.sent[0].Type != broadcast.ResponseSearchComplete {
		t.Errorf("ожидался только SearchComplete, получено %+v", s.sent)
	}
	if len(s.published) != 0 {
		t.Errorf("опубликовано %d сообщений", len(s.published))
	}
}

func TestHandle_SearchExternal(t *testing.T) {
	env := newTestEnv(t)
	search := model.NewSearch("stored name")
	env.mustAdd(t, search)
	env.external.searchFn = func(_ context.Context, _ string) []model.ExternalResult {
		return []model.ExternalResult{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	}

	s := env.do(t, broadcast.Request{Type: broadcast.RequestSearchExternal, Guid: search.GUID, Name: "ignored"})
	if len(env.external.queries) != 1 || env.external.queries[0] != "stored name" {
		t.Errorf("запросы каталога = %v", env.external.queries)
	}
	if len(s.sent) != 3 {
		t.Fatalf("отправлено %d ответов, ожидалось 3", len(s.sent))
	}
	for _, r := range s.sent[:2] {
		if r.Type != broadcast.ResponseObjectAdded || r.DataType != "ExternalSearch" {
			t.Errorf("результат = %+v", r)
		}
	}
	if last := s.sent[2]; last.Type != broadcast.ResponseSearchComplete || last.Data != broadcast.RequestSearchExternal {
		t.Errorf("последний ответ = %+v", last)
	}

	env.do(t, broadcast.Request{Type: broadcast.RequestSearchExternal, Guid: uuid.New(), Name: "from request"})
	if env.external.queries[1] != "from request" {
		t.Errorf("без сохранённого поиска использовано %q", env.external.queries[1])
	}
}

func TestHandle_SearchesAddRemove(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, broadcast.Request{Type: broadcast.RequestAddSearch, Name: "foo"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddSearch, Name: "FOO"})
	env.do(t, broadcast.Request{Type: broadcast.RequestAddSearch, Name: "  "})

	s := env.do(t, broadcast.Request{Type: broadcast.RequestSearches})
	if len(s.unicast) != 1 {
		t.Fatalf("поисков = %d, ожидался 1", len(s.unicast))
	}

	env.do(t, broadcast.Request{Type: broadcast.RequestRemoveSearch, Guid: s.unicast[0].Base().GUID})
	if n := len(env.graph.All(model.KindSearch)); n != 0 {
		t.Errorf("поисков после удаления = %d", n)
	}
}

func TestHandle_Listings(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	channel := model.NewChannel(server.GUID, "#chan")
	bot := model.NewBot(channel.GUID, "Bot")
	p1 := model.NewPacket(bot.GUID, 1, "One")
	p2 := model.NewPacket(bot.GUID, 2, "Two")
	file := model.NewFile("One", 100)
	env.mustAdd(t, server, channel, bot, p1, p2, file)

	s := env.do(t, broadcast.Request{Type: broadcast.RequestServers})
	if got := guids(s.unicast); len(got) != 1 || !got[server.GUID] {
		t.Errorf("Servers = %v", got)
	}

	s = env.do(t, broadcast.Request{Type: broadcast.RequestFiles})
	if got := guids(s.unicast); len(got) != 1 || !got[file.GUID] {
		t.Errorf("Files = %v", got)
	}

	s = env.do(t, broadcast.Request{Type: broadcast.RequestChannelsFromServer, Guid: server.GUID})
	if got := guids(s.unicast); len(got) != 1 || !got[channel.GUID] {
		t.Errorf("ChannelsFromServer = %v", got)
	}
	if len(s.published) != 1 || s.published[0].Object.Base().GUID != server.GUID {
		t.Errorf("ожидался ObjectChanged сервера, получено %+v", s.published)
	}

	s = env.do(t, broadcast.Request{Type: broadcast.RequestPacketsFromBot, Guid: bot.GUID})
	if got := guids(s.unicast); len(got) != 2 || !got[p1.GUID] || !got[p2.GUID] {
		t.Errorf("PacketsFromBot = %v", got)
	}
	if len(s.published) != 1 || s.published[0].Object.Base().GUID != bot.GUID {
		t.Errorf("ожидался ObjectChanged бота, получено %+v", s.published)
	}
}

func TestHandle_Snapshots(t *testing.T) {
	env := newTestEnv(t)
	var gotDays int
	env.snapshots.forDaysFn = func(_ context.Context, days int) ([]model.FlotSeries, error) {
		gotDays = days
		return []model.FlotSeries{{Label: "Speed"}}, nil
	}

	s := env.do(t, broadcast.Request{Type: broadcast.RequestSnapshots, Name: "-7"})
	if gotDays != -7 {
		t.Errorf("days = %d, ожидалось -7", gotDays)
	}
	if len(s.sent) != 1 || s.sent[0].Type != broadcast.ResponseSnapshots || s.sent[0].DataType != "Flot" {
		t.Fatalf("ответ = %+v", s.sent)
	}

	s = env.do(t, broadcast.Request{Type: broadcast.RequestSnapshots, Name: "week"})
	if len(s.sent) != 0 {
		t.Errorf("некорректное смещение дало ответ %+v", s.sent)
	}

	env.snapshots.forDaysFn = func(context.Context, int) ([]model.FlotSeries, error) {
		return nil, errors.New("хранилище недоступно")
	}
	s = env.do(t, broadcast.Request{Type: broadcast.RequestSnapshots, Name: "-1"})
	if len(s.sent) != 0 {
		t.Errorf("ошибка хранилища дала ответ %+v", s.sent)
	}
}

func TestHandle_LiveSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.snapshots.liveFn = func(context.Context) ([]model.FlotSeries, error) {
		return []model.FlotSeries{{Label: "Speed", Data: [][2]float64{{1000, 5}}}}, nil
	}

	s := env.do(t, broadcast.Request{Type: broadcast.RequestLiveSnapshot})
	if len(s.sent) != 1 || s.sent[0].Type != broadcast.ResponseLiveSnapshot {
		t.Fatalf("ответ = %+v", s.sent)
	}
	series := s.sent[0].Data.([]model.FlotSeries)
	if len(series) != 1 || series[0].Data[0][1] != 5 {
		t.Errorf("серии = %+v", series)
	}
}

func TestHandle_CloseServer(t *testing.T) {
	env := newTestEnv(t)
	server := model.NewServer("irc.example.org", 6667)
	env.mustAdd(t, server)

	env.do(t, broadcast.Request{Type: broadcast.RequestCloseServer, Guid: server.GUID})
	env.do(t, broadcast.Request{Type: broadcast.RequestCloseServer, Name: "irc.other.org"})
	if len(env.commands.closed) != 2 || env.commands.closed[0] != "irc.example.org" || env.commands.closed[1] != "irc.other.org" {
		t.Errorf("закрыты = %v", env.commands.closed)
	}

	// Без приёма IRC-событий CloseServer ничего не делает
	d := NewDispatcher(env.graph, service.NewSearchEngine(env.graph), env.external, env.snapshots, nil, testSecret, testLogger())
	data, _ := json.Marshal(broadcast.Request{Type: broadcast.RequestCloseServer, Guid: server.GUID, Password: testSecret})
	d.Handle(t.Context(), &recordingSession{}, data)
}

func TestHandle_ParseXdccLink(t *testing.T) {
	env := newTestEnv(t)
	const link = "xdcc://irc.example.org/Example/#chan/Bot/#5/Foo.Bar.2024.mkv"

	env.do(t, broadcast.Request{Type: broadcast.RequestParseXdccLink, Name: link})
	env.do(t, broadcast.Request{Type: broadcast.RequestParseXdccLink, Name: link})

	server, ok := env.graph.ServerByName("irc.example.org")
	if !ok || !server.Enabled {
		t.Fatalf("сервер = %+v, %v", server, ok)
	}
	channel, ok := env.graph.ChannelByName(server.GUID, "#chan")
	if !ok || !channel.Enabled {
		t.Fatalf("канал = %+v, %v", channel, ok)
	}
	bot, ok := env.graph.BotByName(channel.GUID, "Bot")
	if !ok {
		t.Fatal("бот не создан")
	}
	if bot.Enabled {
		t.Error("бот не должен включаться")
	}
	packet, ok := env.graph.PacketByID(bot.GUID, 5)
	if !ok || !packet.Enabled || packet.Name != "Foo.Bar.2024.mkv" {
		t.Fatalf("пакет = %+v, %v", packet, ok)
	}
	if env.graph.Len() != 4 {
		t.Errorf("объектов = %d, повторная ссылка создала дубликаты", env.graph.Len())
	}

	env.do(t, broadcast.Request{Type: broadcast.RequestParseXdccLink, Name: "http://irc.example.org"})
	if env.graph.Len() != 4 {
		t.Error("некорректная ссылка изменила граф")
	}
}

func TestParseXdccLink(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		want    XdccLink
		wantErr bool
	}{
		{
			name: "полная ссылка",
			link: "xdcc://irc.example.org/Example/#chan/Bot/#12/Foo.mkv",
			want: XdccLink{Server: "irc.example.org", Channel: "#chan", Bot: "Bot", PacketID: 12, Name: "Foo.mkv"},
		},
		{
			name: "схема в другом регистре",
			link: "XDCC://irc.example.org/x/#c/b/#1/n",
			want: XdccLink{Server: "irc.example.org", Channel: "#c", Bot: "b", PacketID: 1, Name: "n"},
		},
		{name: "без схемы", link: "irc.example.org/x/#c/b/#1/n", wantErr: true},
		{name: "мало полей", link: "xdcc://irc.example.org/x/#c/b", wantErr: true},
		{name: "номер без #", link: "xdcc://s/x/#c/b/1/n", wantErr: true},
		{name: "номер не число", link: "xdcc://s/x/#c/b/#one/n", wantErr: true},
		{name: "пустой бот", link: "xdcc://s/x/#c//#1/n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseXdccLink(tt.link)
			if tt.wantErr {
				if !errors.Is(err, ErrBadLink) {
					t.Errorf("ошибка = %v, ожидалась ErrBadLink", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseXdccLink: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseXdccLink = %+v, ожидалось %+v", got, tt.want)
			}
		})
	}
}

func TestParseServerAddress(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"irc.example.org", "irc.example.org", 6667, false},
		{"irc.example.org:7000", "irc.example.org", 7000, false},
		{" irc.example.org:6697 ", "irc.example.org", 6697, false},
		{"", "", 0, true},
		{":7000", "", 0, true},
		{"irc.example.org:0", "", 0, true},
		{"irc.example.org:port", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port, err := ParseServerAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, wantErr = %v", err, tt.wantErr)
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("= (%q, %d), ожидалось (%q, %d)", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}
