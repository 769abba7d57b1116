// Пакет broadcast — доставка изменений графа веб-клиентам.
//
// Router читает поток событий графа, дополняет его каскадными изменениями
// (Propagate) и раздаёт каждому клиенту. Client — актор одного соединения:
// набор уже отправленных объектов и последний поиск меняются только
// в его горутине, поэтому проверка и отметка выполняются атомарно.
package broadcast

import (
	"github.com/google/uuid"
)

// RequestType — вид запроса клиента. Нумерация с 1.
type RequestType int

const (
	RequestAddServer RequestType = iota + 1
	RequestRemoveServer
	RequestAddChannel
	RequestRemoveChannel
	RequestActivateObject
	RequestDeactivateObject
	RequestSearch
	RequestSearchExternal
	RequestAddSearch
	RequestRemoveSearch
	RequestSearches
	RequestServers
	RequestChannelsFromServer
	RequestPacketsFromBot
	RequestLiveSnapshot
	RequestSnapshots
	RequestFiles
	RequestCloseServer
	RequestParseXdccLink
)

var requestNames = [...]string{
	RequestAddServer:          "AddServer",
	RequestRemoveServer:       "RemoveServer",
	RequestAddChannel:         "AddChannel",
	RequestRemoveChannel:      "RemoveChannel",
	RequestActivateObject:     "ActivateObject",
	RequestDeactivateObject:   "DeactivateObject",
	RequestSearch:             "Search",
	RequestSearchExternal:     "SearchExternal",
	RequestAddSearch:          "AddSearch",
	RequestRemoveSearch:       "RemoveSearch",
	RequestSearches:           "Searches",
	RequestServers:            "Servers",
	RequestChannelsFromServer: "ChannelsFromServer",
	RequestPacketsFromBot:     "PacketsFromBot",
	RequestLiveSnapshot:       "LiveSnapshot",
	RequestSnapshots:          "Snapshots",
	RequestFiles:              "Files",
	RequestCloseServer:        "CloseServer",
	RequestParseXdccLink:      "ParseXdccLink",
}

func (t RequestType) String() string {
	if t < RequestAddServer || t > RequestParseXdccLink {
		return "Unknown"
	}
	return requestNames[t]
}

// ResponseType — вид ответа сервера. Нумерация с 1.
type ResponseType int

const (
	ResponseObjectAdded ResponseType = iota + 1
	ResponseObjectChanged
	ResponseObjectRemoved
	ResponseSearchComplete
	ResponseLiveSnapshot
	ResponseSnapshots
)

func (t ResponseType) String() string {
	switch t {
	case ResponseObjectAdded:
		return "ObjectAdded"
	case ResponseObjectChanged:
		return "ObjectChanged"
	case ResponseObjectRemoved:
		return "ObjectRemoved"
	case ResponseSearchComplete:
		return "SearchComplete"
	case ResponseLiveSnapshot:
		return "LiveSnapshot"
	case ResponseSnapshots:
		return "Snapshots"
	default:
		return "Unknown"
	}
}

// Request — входящее сообщение клиента.
type Request struct {
	Type     RequestType `json:"Type"`
	Guid     uuid.UUID   `json:"Guid"`
	Name     string      `json:"Name"`
	Password string      `json:"Password"`
}

// Response — исходящее сообщение клиенту.
// DataType — имя типа полезной нагрузки (Server, Bot, Flot, ...).
type Response struct {
	Type     ResponseType `json:"Type"`
	DataType string       `json:"DataType"`
	Data     any          `json:"Data"`
}
