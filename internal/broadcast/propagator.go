package broadcast

import (
	"github.com/google/uuid"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
	"github.com/sahwar/xdcc-grabscher/internal/graph"
)

// Reader — часть графа, нужная для вычисления каскадов.
type Reader interface {
	Get(id uuid.UUID) (model.Object, bool)
	Children(id uuid.UUID) []model.Object
}

// Propagate возвращает объекты, о которых нужно дополнительно сообщить
// как об изменённых, в порядке зависимостей:
//   - Bot.Connected: все пакеты бота;
//   - FilePart Speed/CurrentSize/TimeMissing: файл; при Speed ещё пакет
//     части и бот этого пакета;
//   - Packet.Enabled: бот пакета.
func Propagate(r Reader, ev graph.Event) []model.Object {
	switch ev.Type {
	case graph.EventChanged:
		switch o := ev.Object.(type) {
		case *model.Bot:
			if ev.HasField(model.FieldConnected) {
				return r.Children(o.GUID)
			}
		case *model.FilePart:
			return propagatePart(r, o, ev)
		}
	case graph.EventEnabledChanged:
		if p, ok := ev.Object.(*model.Packet); ok {
			return lookup(r, nil, p.ParentGUID)
		}
	}
	return nil
}

func propagatePart(r Reader, part *model.FilePart, ev graph.Event) []model.Object {
	if !ev.HasField(model.FieldSpeed) && !ev.HasField(model.FieldCurrentSize) && !ev.HasField(model.FieldTimeMissing) {
		return nil
	}
	out := lookup(r, nil, part.ParentGUID)
	if !ev.HasField(model.FieldSpeed) || part.PacketGUID == uuid.Nil {
		return out
	}
	packet, ok := r.Get(part.PacketGUID)
	if !ok {
		return out
	}
	out = append(out, packet)
	return lookup(r, out, packet.Base().ParentGUID)
}

func lookup(r Reader, out []model.Object, id uuid.UUID) []model.Object {
	if obj, ok := r.Get(id); ok {
		out = append(out, obj)
	}
	return out
}
