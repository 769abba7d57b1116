package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// mockCatalog — мок CatalogClient.
type mockCatalog struct {
	pageFn func(ctx context.Context, query string, start, limit int) ([]model.ExternalResult, error)
	calls  int
}

func (m *mockCatalog) Page(ctx context.Context, query string, start, limit int) ([]model.ExternalResult, error) {
	m.calls++
	if m.pageFn != nil {
		return m.pageFn(ctx, query, start, limit)
	}
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeResults(start, n int) []model.ExternalResult {
	out := make([]model.ExternalResult, n)
	for i := range out {
		out[i] = model.ExternalResult{ID: start + i, Name: fmt.Sprintf("file-%d", start+i)}
	}
	return out
}

func TestExternalSearch_StopsOnShortPage(t *testing.T) {
	catalog := &mockCatalog{
		pageFn: func(_ context.Context, _ string, start, limit int) ([]model.ExternalResult, error) {
			if limit != 3 {
				t.Errorf("limit = %d, ожидался 3", limit)
			}
			switch start {
			case 0, 3:
				return makeResults(start, 3), nil
			case 6:
				return makeResults(start, 1), nil
			}
			t.Errorf("лишний запрос страницы start=%d", start)
			return nil, nil
		},
	}
	svc := NewExternalSearchService(catalog, nil, 3, testLogger())

	results := svc.Search(context.Background(), "foo")
	if len(results) != 7 {
		t.Errorf("получено %d результатов, ожидалось 7", len(results))
	}
	if catalog.calls != 3 {
		t.Errorf("запросов %d, ожидалось 3", catalog.calls)
	}
}

func TestExternalSearch_EmptyPageStops(t *testing.T) {
	catalog := &mockCatalog{
		pageFn: func(_ context.Context, _ string, start, _ int) ([]model.ExternalResult, error) {
			if start == 0 {
				return makeResults(0, 2), nil
			}
			return nil, nil
		},
	}
	svc := NewExternalSearchService(catalog, nil, 2, testLogger())

	if results := svc.Search(context.Background(), "foo"); len(results) != 2 {
		t.Errorf("получено %d результатов, ожидалось 2", len(results))
	}
}

func TestExternalSearch_PartialOnFailure(t *testing.T) {
	catalog := &mockCatalog{
		pageFn: func(_ context.Context, _ string, start, _ int) ([]model.ExternalResult, error) {
			if start == 0 {
				return makeResults(0, 5), nil
			}
			return nil, errors.New("connection reset")
		},
	}
	cache := NewCacheService(10, time.Minute)
	svc := NewExternalSearchService(catalog, cache, 5, testLogger())

	results := svc.Search(context.Background(), "foo")
	if len(results) != 5 {
		t.Fatalf("получено %d результатов, ожидалось 5 из первой страницы", len(results))
	}
	if cache.Len() != 0 {
		t.Error("неполный результат не должен кэшироваться")
	}
}

func TestExternalSearch_Cached(t *testing.T) {
	catalog := &mockCatalog{
		pageFn: func(_ context.Context, _ string, _, _ int) ([]model.ExternalResult, error) {
			return makeResults(0, 1), nil
		},
	}
	svc := NewExternalSearchService(catalog, NewCacheService(10, time.Minute), 25, testLogger())

	svc.Search(context.Background(), "Foo  Bar")
	results := svc.Search(context.Background(), "foo bar")
	if len(results) != 1 {
		t.Errorf("получено %d результатов, ожидался 1", len(results))
	}
	if catalog.calls != 1 {
		t.Errorf("запросов к каталогу %d, ожидался 1", catalog.calls)
	}
}

func TestExternalSearch_EmptyQuery(t *testing.T) {
	catalog := &mockCatalog{}
	svc := NewExternalSearchService(catalog, nil, 25, testLogger())

	if results := svc.Search(context.Background(), "  "); results != nil {
		t.Errorf("пустой запрос должен давать nil, получено %v", results)
	}
	if catalog.calls != 0 {
		t.Error("пустой запрос не должен доходить до каталога")
	}
}
