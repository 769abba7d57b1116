// search.go — синтетические поиски.
package model

import "github.com/google/uuid"

// Зарезервированные идентификаторы синтетических поисков.
// Не сохраняются в хранилище и не существуют в графе.
var (
	// SearchDownloads — пакеты, загрузка которых идёт сейчас (Connected).
	SearchDownloads = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	// SearchEnabled — пакеты, явно включённые пользователем (Enabled).
	SearchEnabled = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// IsSyntheticSearch сообщает, зарезервирован ли идентификатор поиска.
func IsSyntheticSearch(id uuid.UUID) bool {
	return id == SearchDownloads || id == SearchEnabled
}
