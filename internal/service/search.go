// Пакет service — прикладные сервисы XG поверх графа объектов.
// SearchEngine — разрешение поиска в набор видимых пакетов и ботов.
package service

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
)

// VisibleSet — результат поиска: подходящие пакеты и их боты.
type VisibleSet struct {
	Packets []*model.Packet
	Bots    []*model.Bot
}

// Contains сообщает, входит ли объект в набор.
func (v VisibleSet) Contains(id uuid.UUID) bool {
	for _, p := range v.Packets {
		if p.GUID == id {
			return true
		}
	}
	for _, b := range v.Bots {
		if b.GUID == id {
			return true
		}
	}
	return false
}

// Objects возвращает набор одним списком: сначала боты, затем пакеты.
func (v VisibleSet) Objects() []model.Object {
	out := make([]model.Object, 0, len(v.Bots)+len(v.Packets))
	for _, b := range v.Bots {
		out = append(out, b)
	}
	for _, p := range v.Packets {
		out = append(out, p)
	}
	return out
}

// SearchEngine разрешает идентификатор поиска в набор объектов.
// Синтетические поиски фильтруют по флагам, сохранённые — по токенам имени.
type SearchEngine struct {
	graph *graph.Graph
}

// NewSearchEngine создаёт SearchEngine.
func NewSearchEngine(g *graph.Graph) *SearchEngine {
	return &SearchEngine{graph: g}
}

// Resolve возвращает пакеты, подходящие под поиск, и ботов, которым они
// принадлежат. Неизвестный поиск или поиск с пустым именем даёт пустой набор.
func (s *SearchEngine) Resolve(searchID uuid.UUID) VisibleSet {
	match := s.matcher(searchID)
	if match == nil {
		return VisibleSet{}
	}

	var set VisibleSet
	owners := make(map[uuid.UUID]struct{})
	for _, obj := range s.graph.All(model.KindPacket) {
		p := obj.(*model.Packet)
		if !match(p) {
			continue
		}
		set.Packets = append(set.Packets, p)
		owners[p.ParentGUID] = struct{}{}
	}
	for id := range owners {
		if obj, ok := s.graph.Get(id); ok {
			set.Bots = append(set.Bots, obj.(*model.Bot))
		}
	}

	slices.SortFunc(set.Packets, func(a, b *model.Packet) int {
		return cmp.Or(cmp.Compare(a.ParentGUID.String(), b.ParentGUID.String()), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(set.Bots, func(a, b *model.Bot) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return set
}

// Count возвращает число пакетов, подходящих под поиск.
func (s *SearchEngine) Count(searchID uuid.UUID) int {
	match := s.matcher(searchID)
	if match == nil {
		return 0
	}
	n := 0
	for _, obj := range s.graph.All(model.KindPacket) {
		if match(obj.(*model.Packet)) {
			n++
		}
	}
	return n
}

// IsVisible сообщает, входит ли пакет или бот в набор Resolve(searchID).
// Для остальных видов всегда false.
func (s *SearchEngine) IsVisible(searchID uuid.UUID, obj model.Object) bool {
	match := s.matcher(searchID)
	if match == nil {
		return false
	}
	switch o := obj.(type) {
	case *model.Packet:
		return match(o)
	case *model.Bot:
		for _, c := range s.graph.Children(o.GUID) {
			if p, ok := c.(*model.Packet); ok && match(p) {
				return true
			}
		}
	}
	return false
}

// matcher возвращает предикат поиска или nil, если поиск ничего не показывает.
func (s *SearchEngine) matcher(searchID uuid.UUID) func(*model.Packet) bool {
	switch searchID {
	case model.SearchDownloads:
		return func(p *model.Packet) bool { return p.Connected }
	case model.SearchEnabled:
		return func(p *model.Packet) bool { return p.Enabled }
	}

	obj, ok := s.graph.Get(searchID)
	if !ok {
		return nil
	}
	search, ok := obj.(*model.Search)
	if !ok {
		return nil
	}
	tokens := Tokenize(search.Name)
	if len(tokens) == 0 {
		return nil
	}
	return func(p *model.Packet) bool { return MatchTokens(p.Name, tokens) }
}

// Tokenize разбивает запрос по пробелам и приводит токены к нижнему регистру.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// MatchTokens проверяет, что имя содержит все токены (без учёта регистра).
func MatchTokens(name string, tokens []string) bool {
	name = strings.ToLower(name)
	for _, t := range tokens {
		if !strings.Contains(name, t) {
			return false
		}
	}
	return true
}
