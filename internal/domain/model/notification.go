// notification.go — уведомления пользователя.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType — вид пользовательского уведомления.
type NotificationType int

// Виды уведомлений. Номера совпадают с шаблонами клиента.
const (
	NotificationPacketCompleted NotificationType = iota + 1
	NotificationPacketIncomplete
	NotificationPacketBroken
	NotificationPacketRequested
	NotificationPacketRemoved
	NotificationPacketFileMismatch
	NotificationPacketNameDifferent
	NotificationPacketSizeDifferent
	NotificationPacketAlreadyDownloaded
	NotificationFileCompleted
	NotificationFileSizeMismatch
	NotificationFileBuildFailed
	NotificationServerConnected
	NotificationServerConnectFailed
	NotificationChannelJoined
	NotificationChannelJoinFailed
	NotificationBotConnected
	NotificationBotSubmittedWrongPort
)

var notificationNames = map[NotificationType]string{
	NotificationPacketCompleted:         "PacketCompleted",
	NotificationPacketIncomplete:        "PacketIncomplete",
	NotificationPacketBroken:            "PacketBroken",
	NotificationPacketRequested:         "PacketRequested",
	NotificationPacketRemoved:           "PacketRemoved",
	NotificationPacketFileMismatch:      "PacketFileMismatch",
	NotificationPacketNameDifferent:     "PacketNameDifferent",
	NotificationPacketSizeDifferent:     "PacketSizeDifferent",
	NotificationPacketAlreadyDownloaded: "PacketAlreadyDownloaded",
	NotificationFileCompleted:           "FileCompleted",
	NotificationFileSizeMismatch:        "FileSizeMismatch",
	NotificationFileBuildFailed:         "FileBuildFailed",
	NotificationServerConnected:         "ServerConnected",
	NotificationServerConnectFailed:     "ServerConnectFailed",
	NotificationChannelJoined:           "ChannelJoined",
	NotificationChannelJoinFailed:       "ChannelJoinFailed",
	NotificationBotConnected:            "BotConnected",
	NotificationBotSubmittedWrongPort:   "BotSubmittedWrongPort",
}

func (t NotificationType) String() string {
	if n, ok := notificationNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Valid сообщает, входит ли значение в известный набор.
func (t NotificationType) Valid() bool {
	_, ok := notificationNames[t]
	return ok
}

// ParseNotificationType возвращает вид уведомления по имени.
func ParseNotificationType(name string) (NotificationType, bool) {
	for t, n := range notificationNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Notification — запись о событии для пользователя.
// Текст собирает клиент по шаблону Type из ObjectName и ParentName.
type Notification struct {
	Entity
	Type       NotificationType `json:"Type"`
	ObjectName string           `json:"ObjectName"`
	ParentName string           `json:"ParentName"`
	Time       time.Time        `json:"Time"`
}

// NewNotification создаёт уведомление с текущим временем.
func NewNotification(t NotificationType, objectName, parentName string) *Notification {
	return &Notification{
		Entity:     NewEntity(uuid.Nil, t.String()),
		Type:       t,
		ObjectName: objectName,
		ParentName: parentName,
		Time:       time.Now(),
	}
}

func (n *Notification) Kind() Kind { return KindNotification }

func (n *Notification) Clone() Object {
	c := *n
	c.changes = nil
	return &c
}
