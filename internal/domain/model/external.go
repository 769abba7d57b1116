// external.go — результат внешнего поиска.
package model

import "time"

// ExternalResult — пакет из внешнего каталога.
type ExternalResult struct {
	ID            int       `json:"Id"`
	Name          string    `json:"Name"`
	Size          int64     `json:"Size"`
	BotName       string    `json:"BotName"`
	BotSpeed      float64   `json:"BotSpeed"`
	ServerName    string    `json:"ServerName"`
	ChannelName   string    `json:"ChannelName"`
	LastMentioned time.Time `json:"LastMentioned"`
	LastUpdated   time.Time `json:"LastUpdated"`
}
