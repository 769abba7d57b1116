// snapshot.go — набор метрик для графиков.
package model

// SnapshotValue — одна из метрик состояния, по которым строятся графики.
type SnapshotValue int

// Набор метрик. Порядок совпадает с порядком серий в ответе Snapshots.
const (
	SnapshotSpeed SnapshotValue = iota
	SnapshotServers
	SnapshotServersConnected
	SnapshotServersDisconnected
	SnapshotChannels
	SnapshotChannelsConnected
	SnapshotChannelsDisconnected
	SnapshotBots
	SnapshotBotsConnected
	SnapshotBotsDisconnected
	SnapshotBotsFreeSlots
	SnapshotBotsFreeQueue
	SnapshotPackets
	SnapshotPacketsConnected
	SnapshotPacketsDisconnected
	SnapshotPacketsSize
	SnapshotPacketsSizeDownloading
	SnapshotPacketsSizeNotDownloading
	SnapshotBotsAverageCurrentSpeed
	SnapshotBotsAverageMaxSpeed
	SnapshotServersEnabled
	SnapshotServersDisabled
	SnapshotChannelsEnabled
	SnapshotChannelsDisabled
	SnapshotPacketsSizeConnected
	SnapshotPacketsSizeDisconnected
	SnapshotFileSizeDownloaded
	SnapshotFileSizeMissing
	SnapshotFileTimeMissing

	snapshotValueCount
)

var snapshotNames = [snapshotValueCount]string{
	"Speed",
	"Servers",
	"ServersConnected",
	"ServersDisconnected",
	"Channels",
	"ChannelsConnected",
	"ChannelsDisconnected",
	"Bots",
	"BotsConnected",
	"BotsDisconnected",
	"BotsFreeSlots",
	"BotsFreeQueue",
	"Packets",
	"PacketsConnected",
	"PacketsDisconnected",
	"PacketsSize",
	"PacketsSizeDownloading",
	"PacketsSizeNotDownloading",
	"BotsAverageCurrentSpeed",
	"BotsAverageMaxSpeed",
	"ServersEnabled",
	"ServersDisabled",
	"ChannelsEnabled",
	"ChannelsDisabled",
	"PacketsSizeConnected",
	"PacketsSizeDisconnected",
	"FileSizeDownloaded",
	"FileSizeMissing",
	"FileTimeMissing",
}

func (v SnapshotValue) String() string {
	if v < 0 || v >= snapshotValueCount {
		return "Unknown"
	}
	return snapshotNames[v]
}

// SnapshotValues возвращает все метрики в каноническом порядке.
func SnapshotValues() []SnapshotValue {
	out := make([]SnapshotValue, snapshotValueCount)
	for i := range out {
		out[i] = SnapshotValue(i)
	}
	return out
}

// FlotSeries — одна серия графика: пары (время в мс, значение).
type FlotSeries struct {
	Label string       `json:"label"`
	Data  [][2]float64 `json:"data"`
}
