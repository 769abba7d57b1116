// snapshot.go — SnapshotProjector: ряды метрик состояния для графиков.
// Источник — Prometheus, куда метрики попадают через SnapshotCollector.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/tsdb"
)

// LiveWindow — окно, из которого берётся последнее значение для LiveSnapshot.
const LiveWindow = 15 * time.Minute

// snapshotQuery — запрос всех метрик состояния одним вектором.
const snapshotQuery = `xg_snapshot`

// TimeSeriesStore — хранилище временных рядов.
type TimeSeriesStore interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]tsdb.Series, error)
}

// SnapshotProjector преобразует ряды хранилища в серии графика:
// по одной на каждую метрику, точки — (время в мс, значение).
type SnapshotProjector struct {
	store  TimeSeriesStore
	step   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSnapshotProjector создаёт проектор с фиксированным шагом запроса.
func NewSnapshotProjector(store TimeSeriesStore, step time.Duration, logger *slog.Logger) *SnapshotProjector {
	if step <= 0 {
		step = time.Minute
	}
	return &SnapshotProjector{
		store:  store,
		step:   step,
		logger: logger.With(slog.String("component", "snapshot_projector")),
		now:    time.Now,
	}
}

// Snapshots возвращает 29 серий за окно [start, end] в каноническом порядке.
// Метрика без данных даёт серию без точек. Точки NaN пропускаются.
func (p *SnapshotProjector) Snapshots(ctx context.Context, start, end time.Time) ([]model.FlotSeries, error) {
	series, err := p.store.QueryRange(ctx, snapshotQuery, start, end, p.step)
	if err != nil {
		return nil, fmt.Errorf("запрос рядов состояния: %w", err)
	}

	byName := make(map[string][]tsdb.Point, len(series))
	for _, s := range series {
		name := s.Labels["value"]
		if name == "" {
			continue
		}
		byName[name] = append(byName[name], s.Points...)
	}

	values := model.SnapshotValues()
	out := make([]model.FlotSeries, 0, len(values))
	for _, v := range values {
		points := byName[v.String()]
		data := make([][2]float64, 0, len(points))
		for _, pt := range points {
			if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
				continue
			}
			data = append(data, [2]float64{float64(pt.Time.UnixMilli()), pt.Value})
		}
		out = append(out, model.FlotSeries{Label: v.String(), Data: data})
	}

	p.logger.Debug("Ряды состояния построены",
		slog.Time("start", start),
		slog.Time("end", end),
		slog.Int("series", len(series)),
	)
	return out, nil
}

// SnapshotsForDays — окно [now+days, now]; days обычно отрицательно.
func (p *SnapshotProjector) SnapshotsForDays(ctx context.Context, days int) ([]model.FlotSeries, error) {
	end := p.now()
	start := end.AddDate(0, 0, days)
	if start.After(end) {
		start, end = end, start
	}
	return p.Snapshots(ctx, start, end)
}

// Live возвращает по одной точке на метрику: самую позднюю с неотрицательным
// значением за последние 15 минут, либо (0, 0), если таких нет.
func (p *SnapshotProjector) Live(ctx context.Context) ([]model.FlotSeries, error) {
	end := p.now()
	series, err := p.Snapshots(ctx, end.Add(-LiveWindow), end)
	if err != nil {
		return nil, err
	}
	for i := range series {
		var last [2]float64
		for _, pt := range series[i].Data {
			if pt[1] >= 0 && pt[0] > last[0] {
				last = pt
			}
		}
		series[i].Data = [][2]float64{last}
	}
	return series, nil
}
