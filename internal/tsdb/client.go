// Пакет tsdb — HTTP-клиент Prometheus Query API (хранилище временных рядов).
// Используется SnapshotProjector для построения графиков состояния.
// Если адрес не задан, все запросы возвращают пустой результат.
package tsdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrStatus — Prometheus ответил status != success.
var ErrStatus = errors.New("prometheus: неуспешный статус ответа")

// Point — одна точка ряда.
type Point struct {
	Time  time.Time
	Value float64
}

// Series — ряд с метками.
type Series struct {
	Labels map[string]string
	Points []Point
}

// queryResponse — ответ /api/v1/query_range.
type queryResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Data   queryData `json:"data"`
}

type queryData struct {
	ResultType string        `json:"resultType"`
	Result     []queryResult `json:"result"`
}

type queryResult struct {
	Metric map[string]string `json:"metric"`
	Values [][]any           `json:"values"` // [[timestamp, "value"], ...]
}

// Client — клиент Prometheus.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. Пустой baseURL отключает запросы.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "tsdb")),
	}
}

// IsConfigured возвращает true, если адрес Prometheus задан.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL возвращает адрес Prometheus.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// QueryRange выполняет /api/v1/query_range за окно [start, end] с шагом step.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	if !c.IsConfigured() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", formatTime(start))
	params.Set("end", formatTime(end))
	params.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))

	reqURL := c.baseURL + "/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("выполнение запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Prometheus вернул код %d: %s", resp.StatusCode, string(body))
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("парсинг ответа: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("%w: %s %s", ErrStatus, qr.Status, qr.Error)
	}

	series := make([]Series, 0, len(qr.Data.Result))
	for _, r := range qr.Data.Result {
		series = append(series, Series{Labels: r.Metric, Points: extractPoints(r)})
	}
	c.logger.Debug("Запрос к Prometheus выполнен",
		slog.String("query", query),
		slog.Int("series", len(series)),
	)
	return series, nil
}

// extractPoints извлекает точки; некорректные пропускаются.
func extractPoints(r queryResult) []Point {
	points := make([]Point, 0, len(r.Values))
	for _, v := range r.Values {
		if len(v) < 2 {
			continue
		}
		ts, ok := v[0].(float64)
		if !ok {
			continue
		}
		raw, ok := v[1].(string)
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		points = append(points, Point{
			Time:  time.UnixMilli(int64(ts * 1000)),
			Value: val,
		})
	}
	return points
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', 3, 64)
}
