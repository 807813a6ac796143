package multiblock

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/annel0/blockkit/internal/world/multiblock")

// Structure множество позиций блоков, образующих одну конструкцию.
// Безопасна для конкурентного использования.
type Structure struct {
	mu      sync.RWMutex
	members map[vec.Vec3]struct{}
}

// Report результат анализа структуры
type Report struct {
	// Exposed стороны каждого блока, не примыкающие к другому блоку структуры
	Exposed map[vec.Vec3]*block.Facings
	// Shell блоки, у которых есть хотя бы одна открытая сторона
	Shell []vec.Vec3
	// Interior полностью закрытые блоки
	Interior []vec.Vec3
	// ExposedFaces общее количество открытых сторон
	ExposedFaces int
	// Components количество связных компонент
	Components int
	Min, Max   vec.Vec3
}

// NewStructure создаёт структуру из переданных позиций
func NewStructure(positions ...vec.Vec3) *Structure {
	s := &Structure{members: make(map[vec.Vec3]struct{}, len(positions))}
	for _, p := range positions {
		s.members[p] = struct{}{}
	}
	return s
}

// Add добавляет блок; возвращает false, если он уже был в структуре
func (s *Structure) Add(pos vec.Vec3) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[pos]; ok {
		return false
	}
	s.members[pos] = struct{}{}
	return true
}

// Remove удаляет блок; возвращает false, если его не было
func (s *Structure) Remove(pos vec.Vec3) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[pos]; !ok {
		return false
	}
	delete(s.members, pos)
	return true
}

// Contains проверяет принадлежность позиции структуре
func (s *Structure) Contains(pos vec.Vec3) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[pos]
	return ok
}

// Len количество блоков в структуре
func (s *Structure) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Positions возвращает позиции блоков в детерминированном порядке
func (s *Structure) Positions() []vec.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Connections возвращает стороны блока, к которым примыкает другой блок структуры.
// Для позиции вне структуры соединения тоже считаются.
func (s *Structure) Connections(pos vec.Vec3) *block.Facings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionsLocked(pos)
}

// Exposed возвращает открытые стороны блока; для позиции вне структуры FacingsNone
func (s *Structure) Exposed(pos vec.Vec3) *block.Facings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.members[pos]; !ok {
		return block.FacingsNone
	}
	return s.exposedLocked(pos)
}

// Bounds возвращает ограничивающий параллелепипед; ok == false для пустой структуры
func (s *Structure) Bounds() (lo, hi vec.Vec3, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boundsLocked()
}

// Walk идёт от start, на каждом шаге смещаясь во все стороны facings,
// пока очередная позиция принадлежит структуре и не исчерпан лимит шагов.
// Возвращает пройденные позиции без start.
func (s *Structure) Walk(start vec.Vec3, facings *block.Facings, steps int) []vec.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var path []vec.Vec3
	pos := start
	for i := 0; i < steps; i++ {
		next := facings.Offset(pos)
		if next == pos {
			break
		}
		if _, ok := s.members[next]; !ok {
			break
		}
		path = append(path, next)
		pos = next
	}
	return path
}

// Analyze вычисляет открытые стороны всех блоков и связность структуры
func (s *Structure) Analyze(ctx context.Context) Report {
	_, span := tracer.Start(ctx, "multiblock.Analyze")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := Report{Exposed: make(map[vec.Vec3]*block.Facings, len(s.members))}
	report.Min, report.Max, _ = s.boundsLocked()

	for _, pos := range s.sortedLocked() {
		exposed := s.exposedLocked(pos)
		report.Exposed[pos] = exposed
		report.ExposedFaces += exposed.CountWhere(true)
		if exposed.Any() {
			report.Shell = append(report.Shell, pos)
		} else {
			report.Interior = append(report.Interior, pos)
		}
	}
	report.Components = s.componentsLocked()

	span.SetAttributes(
		attribute.Int("multiblock.blocks", len(s.members)),
		attribute.Int("multiblock.exposed_faces", report.ExposedFaces),
		attribute.Int("multiblock.components", report.Components),
	)
	return report
}

func (s *Structure) connectionsLocked(pos vec.Vec3) *block.Facings {
	f := block.FacingsNone
	for _, d := range block.Directions {
		if _, ok := s.members[pos.Add(d.Offset())]; ok {
			f = f.Set(d, true)
		}
	}
	return f
}

func (s *Structure) exposedLocked(pos vec.Vec3) *block.Facings {
	return block.FromBits(^s.connectionsLocked(pos).Value())
}

func (s *Structure) boundsLocked() (lo, hi vec.Vec3, ok bool) {
	for pos := range s.members {
		if !ok {
			lo, hi, ok = pos, pos, true
			continue
		}
		lo = lo.Min(pos)
		hi = hi.Max(pos)
	}
	return lo, hi, ok
}

// componentsLocked считает связные компоненты обходом в ширину по соединённым сторонам
func (s *Structure) componentsLocked() int {
	visited := make(map[vec.Vec3]struct{}, len(s.members))
	components := 0

	for _, start := range s.sortedLocked() {
		if _, seen := visited[start]; seen {
			continue
		}
		components++

		queue := []vec.Vec3{start}
		visited[start] = struct{}{}
		for len(queue) > 0 {
			pos := queue[0]
			queue = queue[1:]

			for _, d := range s.connectionsLocked(pos).Directions() {
				next := pos.Add(d.Offset())
				if _, seen := visited[next]; !seen {
					visited[next] = struct{}{}
					queue = append(queue, next)
				}
			}
		}
	}
	return components
}

func (s *Structure) sortedLocked() []vec.Vec3 {
	positions := make([]vec.Vec3, 0, len(s.members))
	for pos := range s.members {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })
	return positions
}
