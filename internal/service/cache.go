// cache.go — LRU-кэш результатов внешнего поиска с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg_search_cache_hits_total",
		Help: "Общее количество попаданий в кэш внешнего поиска.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg_search_cache_misses_total",
		Help: "Общее количество промахов кэша внешнего поиска.",
	})
)

// CacheService — кэш результатов внешнего каталога по нормализованному запросу.
type CacheService struct {
	cache *expirable.LRU[string, []model.ExternalResult]
}

// NewCacheService создаёт кэш на maxSize запросов с временем жизни ttl.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{cache: expirable.NewLRU[string, []model.ExternalResult](maxSize, nil, ttl)}
}

// Get возвращает копию результатов по запросу.
func (c *CacheService) Get(query string) ([]model.ExternalResult, bool) {
	val, ok := c.cache.Get(cacheKey(query))
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	out := make([]model.ExternalResult, len(val))
	copy(out, val)
	return out, true
}

// Set сохраняет результаты запроса.
func (c *CacheService) Set(query string, results []model.ExternalResult) {
	stored := make([]model.ExternalResult, len(results))
	copy(stored, results)
	c.cache.Add(cacheKey(query), stored)
}

// Len возвращает число запросов в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

// cacheKey — запросы, отличающиеся регистром и пробелами, равны.
func cacheKey(query string) string {
	return strings.Join(Tokenize(query), " ")
}
