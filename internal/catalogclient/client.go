// Пакет catalogclient — HTTP-клиент внешнего каталога пакетов XDCC.
// Операция: Page (GET <base>?show=search&action=external) с пагинацией start/limit.
package catalogclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// Client — клиент внешнего каталога.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент каталога.
// baseURL — адрес index.php каталога, version — версия XG для параметра xg,
// timeout — ограничение на один запрос страницы.
func New(baseURL, version string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "catalog_client")),
	}
}

// Page запрашивает одну страницу результатов поиска.
// Каталог отвечает JSON-массивом; пустой массив — результатов больше нет.
func (c *Client) Page(ctx context.Context, query string, start, limit int) ([]model.ExternalResult, error) {
	reqURL, err := c.pageURL(query, start, limit)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к каталогу: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к каталогу (start=%d): %w", start, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("каталог вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var results []model.ExternalResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("декодирование ответа каталога: %w", err)
	}

	c.logger.Debug("Страница каталога получена",
		slog.String("query", query),
		slog.Int("start", start),
		slog.Int("count", len(results)),
	)
	return results, nil
}

func (c *Client) pageURL(query string, start, limit int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("разбор адреса каталога %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("show", "search")
	q.Set("action", "external")
	q.Set("xg", c.version)
	q.Set("start", strconv.Itoa(start))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("search", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
