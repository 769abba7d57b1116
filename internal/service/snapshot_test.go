package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
	"github.com/sahwar/xdcc-grabscher/internal/tsdb"
)

// mockStore — мок TimeSeriesStore.
type mockStore struct {
	queryRangeFn func(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]tsdb.Series, error)
}

func (m *mockStore) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]tsdb.Series, error) {
	if m.queryRangeFn != nil {
		return m.queryRangeFn(ctx, query, start, end, step)
	}
	return nil, nil
}

func point(sec int64, v float64) tsdb.Point {
	return tsdb.Point{Time: time.Unix(sec, 0), Value: v}
}

func TestSnapshotProjector_Snapshots(t *testing.T) {
	store := &mockStore{
		queryRangeFn: func(_ context.Context, query string, _, _ time.Time, step time.Duration) ([]tsdb.Series, error) {
			if query != "xg_snapshot" || step != time.Minute {
				t.Errorf("query=%q step=%v", query, step)
			}
			return []tsdb.Series{
				{Labels: map[string]string{"value": "Speed"}, Points: []tsdb.Point{point(100, 1), point(160, math.NaN()), point(220, 3)}},
				{Labels: map[string]string{"value": "Bots"}, Points: []tsdb.Point{point(100, 7)}},
				{Labels: map[string]string{}, Points: []tsdb.Point{point(100, 9)}},
			}, nil
		},
	}
	p := NewSnapshotProjector(store, time.Minute, testLogger())

	series, err := p.Snapshots(context.Background(), time.Unix(0, 0), time.Unix(300, 0))
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(series) != 29 {
		t.Fatalf("серий %d, ожидалось 29", len(series))
	}
	speed := series[model.SnapshotSpeed]
	if speed.Label != "Speed" || len(speed.Data) != 2 {
		t.Fatalf("Speed = %+v", speed)
	}
	if speed.Data[0] != [2]float64{100000, 1} || speed.Data[1] != [2]float64{220000, 3} {
		t.Errorf("точки Speed = %v, ожидались миллисекунды", speed.Data)
	}
	if bots := series[model.SnapshotBots]; len(bots.Data) != 1 || bots.Data[0][1] != 7 {
		t.Errorf("Bots = %+v", bots)
	}
	if empty := series[model.SnapshotFileTimeMissing]; empty.Label != "FileTimeMissing" || len(empty.Data) != 0 {
		t.Errorf("FileTimeMissing = %+v", empty)
	}
}

func TestSnapshotProjector_Live(t *testing.T) {
	now := time.Unix(10_000, 0)
	store := &mockStore{
		queryRangeFn: func(_ context.Context, _ string, start, end time.Time, _ time.Duration) ([]tsdb.Series, error) {
			if !end.Equal(now) || end.Sub(start) != LiveWindow {
				t.Errorf("окно [%v, %v]", start, end)
			}
			return []tsdb.Series{
				{Labels: map[string]string{"value": "Speed"}, Points: []tsdb.Point{point(9_500, 5), point(9_600, 6), point(9_700, -1)}},
			}, nil
		},
	}
	p := NewSnapshotProjector(store, time.Minute, testLogger())
	p.now = func() time.Time { return now }

	series, err := p.Live(context.Background())
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if got := series[model.SnapshotSpeed].Data; len(got) != 1 || got[0] != [2]float64{9_600_000, 6} {
		t.Errorf("Speed = %v, ожидалась последняя неотрицательная точка", got)
	}
	if got := series[model.SnapshotBots].Data; len(got) != 1 || got[0] != [2]float64{0, 0} {
		t.Errorf("Bots = %v, ожидалось (0,0)", got)
	}
}

func TestSnapshotProjector_DaysWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := &mockStore{
		queryRangeFn: func(_ context.Context, _ string, start, end time.Time, _ time.Duration) ([]tsdb.Series, error) {
			if !start.Equal(now.AddDate(0, 0, -7)) || !end.Equal(now) {
				t.Errorf("окно [%v, %v]", start, end)
			}
			return nil, nil
		},
	}
	p := NewSnapshotProjector(store, time.Minute, testLogger())
	p.now = func() time.Time { return now }

	if _, err := p.SnapshotsForDays(context.Background(), -7); err != nil {
		t.Fatalf("SnapshotsForDays: %v", err)
	}
}

func TestSnapshotProjector_StoreError(t *testing.T) {
	store := &mockStore{
		queryRangeFn: func(context.Context, string, time.Time, time.Time, time.Duration) ([]tsdb.Series, error) {
			return nil, errors.New("unavailable")
		},
	}
	p := NewSnapshotProjector(store, time.Minute, testLogger())
	if _, err := p.Live(context.Background()); err == nil {
		t.Error("ожидалась ошибка хранилища")
	}
}

func TestComputeSnapshot(t *testing.T) {
	g := graph.New(64, 0)
	defer g.Close()

	server := model.NewServer("irc.example.org", 6667)
	server.Connected, server.Enabled = true, true
	channel := model.NewChannel(server.GUID, "#chan")
	bot := model.NewBot(channel.GUID, "Bot")
	bot.Connected = true
	bot.InfoSlotCurrent, bot.InfoSlotTotal = 1, 2
	bot.InfoSpeedRecord = 100
	packet := model.NewPacket(bot.GUID, 1, "a")
	packet.Size = 1000
	file := model.NewFile("a", 1000)
	part := model.NewFilePart(file.GUID, 0, 1000)
	part.CurrentSize = 400
	part.Speed = 50
	part.TimeMissing = 12
	if err := g.Restore([]model.Object{server, channel, bot, packet, file, part}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := g.AttachPart(part.GUID, packet.GUID); err != nil {
		t.Fatalf("AttachPart: %v", err)
	}

	s := ComputeSnapshot(g)
	checks := map[model.SnapshotValue]float64{
		model.SnapshotServers:                1,
		model.SnapshotServersConnected:       1,
		model.SnapshotServersEnabled:         1,
		model.SnapshotChannelsDisabled:       1,
		model.SnapshotBotsConnected:          1,
		model.SnapshotBotsFreeSlots:          1,
		model.SnapshotBotsAverageMaxSpeed:    100,
		model.SnapshotPacketsConnected:       1,
		model.SnapshotPacketsSizeDownloading: 1000,
		model.SnapshotPacketsSizeConnected:   1000,
		model.SnapshotSpeed:                  50,
		model.SnapshotFileSizeDownloaded:     400,
		model.SnapshotFileSizeMissing:        600,
		model.SnapshotFileTimeMissing:        12,
	}
	for v, want := range checks {
		if s[v] != want {
			t.Errorf("%s = %v, ожидалось %v", v, s[v], want)
		}
	}
}

func TestSnapshotCollector(t *testing.T) {
	g := graph.New(8, 0)
	defer g.Close()
	if err := g.Restore([]model.Object{model.NewServer("irc.example.org", 6667)}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	c := NewSnapshotCollector(g)
	if n := testutil.CollectAndCount(c); n != 29 {
		t.Errorf("метрик %d, ожидалось 29", n)
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)
	expected := `
# HELP xg_snapshot Метрики состояния XG для графиков.
# TYPE xg_snapshot gauge
xg_snapshot{value="Bots"} 0
xg_snapshot{value="BotsAverageCurrentSpeed"} 0
xg_snapshot{value="BotsAverageMaxSpeed"} 0
xg_snapshot{value="BotsConnected"} 0
xg_snapshot{value="BotsDisconnected"} 0
xg_snapshot{value="BotsFreeQueue"} 0
xg_snapshot{value="BotsFreeSlots"} 0
xg_snapshot{value="Channels"} 0
xg_snapshot{value="ChannelsConnected"} 0
xg_snapshot{value="ChannelsDisabled"} 0
xg_snapshot{value="ChannelsDisconnected"} 0
xg_snapshot{value="ChannelsEnabled"} 0
xg_snapshot{value="FileSizeDownloaded"} 0
xg_snapshot{value="FileSizeMissing"} 0
xg_snapshot{value="FileTimeMissing"} 0
xg_snapshot{value="Packets"} 0
xg_snapshot{value="PacketsConnected"} 0
xg_snapshot{value="PacketsDisconnected"} 0
xg_snapshot{value="PacketsSize"} 0
xg_snapshot{value="PacketsSizeConnected"} 0
xg_snapshot{value="PacketsSizeDisconnected"} 0
xg_snapshot{value="PacketsSizeDownloading"} 0
xg_snapshot{value="PacketsSizeNotDownloading"} 0
xg_snapshot{value="Servers"} 1
xg_snapshot{value="ServersConnected"} 0
xg_snapshot{value="ServersDisabled"} 1
xg_snapshot{value="ServersDisconnected"} 1
xg_snapshot{value="ServersEnabled"} 0
xg_snapshot{value="Speed"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "xg_snapshot"); err != nil {
		t.Errorf("метрики не совпали: %v", err)
	}
}
