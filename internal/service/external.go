// external.go — поиск во внешнем каталоге с постраничной загрузкой.
// Страницы запрашиваются последовательно до первой неполной страницы или ошибки.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// Prometheus-метрики внешнего поиска.
var (
	externalSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xg_external_search_duration_seconds",
		Help:    "Длительность внешнего поиска по всем страницам.",
		Buckets: prometheus.DefBuckets,
	})
	externalSearchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg_external_search_pages_total",
		Help: "Количество запрошенных страниц внешнего каталога.",
	})
)

// CatalogClient — источник страниц внешнего каталога.
type CatalogClient interface {
	Page(ctx context.Context, query string, start, limit int) ([]model.ExternalResult, error)
}

// ExternalSearchService — постраничный поиск во внешнем каталоге.
type ExternalSearchService struct {
	catalog  CatalogClient
	cache    *CacheService
	pageSize int
	logger   *slog.Logger
}

// NewExternalSearchService создаёт сервис внешнего поиска.
// cache может быть nil — тогда результаты не кэшируются.
func NewExternalSearchService(
	catalog CatalogClient,
	cache *CacheService,
	pageSize int,
	logger *slog.Logger,
) *ExternalSearchService {
	if pageSize <= 0 {
		pageSize = 25
	}
	return &ExternalSearchService{
		catalog:  catalog,
		cache:    cache,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "external_search")),
	}
}

// Search собирает результаты по всем страницам. Ошибка страницы прерывает
// цикл: возвращается то, что успели собрать, ошибка только логируется.
func (s *ExternalSearchService) Search(ctx context.Context, query string) []model.ExternalResult {
	if len(Tokenize(query)) == 0 {
		return nil
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(query); ok {
			return cached
		}
	}

	start := time.Now()
	defer func() { externalSearchDuration.Observe(time.Since(start).Seconds()) }()

	var results []model.ExternalResult
	for offset := 0; ; offset += s.pageSize {
		externalSearchPagesTotal.Inc()
		page, err := s.catalog.Page(ctx, query, offset, s.pageSize)
		if err != nil {
			s.logger.Error("Ошибка загрузки внешнего поиска",
				slog.String("query", query),
				slog.Int("offset", offset),
				slog.Int("collected", len(results)),
				slog.String("error", err.Error()),
			)
			return results
		}
		results = append(results, page...)
		if len(page) < s.pageSize {
			break
		}
	}

	s.logger.Debug("Внешний поиск выполнен",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)),
	)
	if s.cache != nil {
		s.cache.Set(query, results)
	}
	return results
}
