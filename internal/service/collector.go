// collector.go — SnapshotCollector: метрики состояния графа для Prometheus.
// Значения считаются при каждом scrape, поэтому ряды, которые читает
// SnapshotProjector, наполняет сам процесс.
package service

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
)

// SnapshotCollector — prometheus.Collector метрики xg_snapshot{value}.
type SnapshotCollector struct {
	graph *graph.Graph
	desc  *prometheus.Desc
}

// NewSnapshotCollector создаёт коллектор. Регистрация — на стороне вызывающего.
func NewSnapshotCollector(g *graph.Graph) *SnapshotCollector {
	return &SnapshotCollector{
		graph: g,
		desc: prometheus.NewDesc(
			"xg_snapshot",
			"Метрики состояния XG для графиков.",
			[]string{"value"}, nil,
		),
	}
}

// Describe реализует prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect реализует prometheus.Collector.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	values := ComputeSnapshot(c.graph)
	for _, v := range model.SnapshotValues() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, values[v], v.String())
	}
}

// Snapshot — значения всех метрик состояния, индекс — model.SnapshotValue.
type Snapshot []float64

// ComputeSnapshot считает метрики состояния по текущему графу.
func ComputeSnapshot(g *graph.Graph) Snapshot {
	s := make(Snapshot, len(model.SnapshotValues()))

	for _, obj := range g.All(model.KindServer) {
		e := obj.Base()
		s[model.SnapshotServers]++
		s[pick(e.Connected, model.SnapshotServersConnected, model.SnapshotServersDisconnected)]++
		s[pick(e.Enabled, model.SnapshotServersEnabled, model.SnapshotServersDisabled)]++
	}
	for _, obj := range g.All(model.KindChannel) {
		e := obj.Base()
		s[model.SnapshotChannels]++
		s[pick(e.Connected, model.SnapshotChannelsConnected, model.SnapshotChannelsDisconnected)]++
		s[pick(e.Enabled, model.SnapshotChannelsEnabled, model.SnapshotChannelsDisabled)]++
	}

	botConnected := make(map[uuid.UUID]bool)
	var currentSpeeds, maxSpeeds []float64
	for _, obj := range g.All(model.KindBot) {
		b := obj.(*model.Bot)
		botConnected[b.GUID] = b.Connected
		s[model.SnapshotBots]++
		s[pick(b.Connected, model.SnapshotBotsConnected, model.SnapshotBotsDisconnected)]++
		if b.InfoSlotCurrent > 0 {
			s[model.SnapshotBotsFreeSlots]++
		}
		if b.InfoQueueTotal > b.InfoQueueCurrent {
			s[model.SnapshotBotsFreeQueue]++
		}
		if b.InfoSpeedCurrent > 0 {
			currentSpeeds = append(currentSpeeds, b.InfoSpeedCurrent)
		}
		if b.InfoSpeedRecord > 0 {
			maxSpeeds = append(maxSpeeds, b.InfoSpeedRecord)
		}
	}
	s[model.SnapshotBotsAverageCurrentSpeed] = average(currentSpeeds)
	s[model.SnapshotBotsAverageMaxSpeed] = average(maxSpeeds)

	for _, obj := range g.All(model.KindPacket) {
		p := obj.(*model.Packet)
		size := float64(p.Size)
		s[model.SnapshotPackets]++
		s[model.SnapshotPacketsSize] += size
		s[model.SnapshotSpeed] += p.Speed
		if p.Connected {
			s[model.SnapshotPacketsConnected]++
			s[model.SnapshotPacketsSizeDownloading] += size
		} else {
			s[model.SnapshotPacketsDisconnected]++
			s[model.SnapshotPacketsSizeNotDownloading] += size
		}
		s[pick(botConnected[p.ParentGUID], model.SnapshotPacketsSizeConnected, model.SnapshotPacketsSizeDisconnected)] += size
	}

	for _, obj := range g.All(model.KindFile) {
		f := obj.(*model.File)
		s[model.SnapshotFileSizeDownloaded] += float64(f.CurrentSize)
		if missing := f.Size - f.CurrentSize; missing > 0 {
			s[model.SnapshotFileSizeMissing] += float64(missing)
		}
		s[model.SnapshotFileTimeMissing] = max(s[model.SnapshotFileTimeMissing], float64(f.TimeMissing))
	}
	return s
}

func pick(cond bool, yes, no model.SnapshotValue) model.SnapshotValue {
	if cond {
		return yes
	}
	return no
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
