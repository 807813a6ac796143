package block

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"sync"

	"github.com/annel0/blockkit/internal/vec"
)

// ErrInvalidArgument нарушение предусловия при создании Facings
var ErrInvalidArgument = errors.New("invalid argument")

const (
	facingsMask  uint8 = 0x3f
	facingsSpace       = 1 << DirectionCount
)

// Facings описывает состояние всех шести сторон блока.
//
// Примеры использования:
//   - какие стороны блока выходят на внешние стены сложной структуры;
//   - какие стороны соединены со стороной такого же блока.
//
// Экземпляры неизменяемы и интернированы: для каждой комбинации битов
// существует ровно один *Facings, поэтому сравнение указателей == сравнению значений.
type Facings struct {
	value uint8
}

var (
	facingsMu    sync.RWMutex
	facingsCache [facingsSpace]*Facings
)

// Часто используемые комбинации создаются при инициализации пакета,
// до того как кеш станет доступен вызывающему коду.
var (
	FacingsNone       = FromBits(0)
	FacingsAll        = FromBits(facingsMask)
	FacingsDown       = FromDirections(Down)
	FacingsUp         = FromDirections(Up)
	FacingsNorth      = FromDirections(North)
	FacingsSouth      = FromDirections(South)
	FacingsWest       = FromDirections(West)
	FacingsEast       = FromDirections(East)
	FacingsVertical   = FromDirections(Down, Up)
	FacingsHorizontal = FromDirections(North, South, West, East)
	FacingsAxisX      = FromDirections(West, East)
	FacingsAxisY      = FacingsVertical
	FacingsAxisZ      = FromDirections(North, South)
)

// FromBits возвращает канонический экземпляр для битовой маски.
// Биты старше пятого зарезервированы и отбрасываются.
func FromBits(value uint8) *Facings {
	value &= facingsMask

	facingsMu.RLock()
	f := facingsCache[value]
	facingsMu.RUnlock()
	if f != nil {
		return f
	}

	facingsMu.Lock()
	defer facingsMu.Unlock()

	// Другая горутина могла успеть создать экземпляр
	if f = facingsCache[value]; f != nil {
		return f
	}

	f = &Facings{value: value}
	facingsCache[value] = f
	return f
}

// FromFlags возвращает Facings по состоянию каждой из сторон
func FromFlags(down, up, north, south, west, east bool) *Facings {
	return FromBits(ComputeBits(down, up, north, south, west, east))
}

// FromDirections возвращает Facings, в котором установлены переданные стороны
func FromDirections(directions ...Direction) *Facings {
	var value uint8
	for _, d := range directions {
		value |= d.bit()
	}
	return FromBits(value)
}

// FromBoolSlice строит Facings из среза флагов: элемент i соответствует биту i.
// Недостающие элементы считаются сброшенными.
func FromBoolSlice(flags []bool) (*Facings, error) {
	if len(flags) > DirectionCount {
		return nil, fmt.Errorf("%w: facings slice has %d elements, at most %d allowed",
			ErrInvalidArgument, len(flags), DirectionCount)
	}

	var value uint8
	for i, set := range flags {
		if set {
			value |= 1 << i
		}
	}
	return FromBits(value), nil
}

// FromAxis возвращает Facings с двумя направлениями оси
func FromAxis(axis Axis) *Facings {
	switch axis {
	case AxisY:
		return FacingsAxisY
	case AxisZ:
		return FacingsAxisZ
	default:
		return FacingsAxisX
	}
}

// FromPlane возвращает Facings с направлениями плоскости
func FromPlane(plane Plane) *Facings {
	switch plane {
	case PlaneHorizontal:
		return FacingsHorizontal
	default:
		return FacingsVertical
	}
}

// ComputeBits вычисляет битовую маску по состоянию каждой из сторон
func ComputeBits(down, up, north, south, west, east bool) uint8 {
	var value uint8
	for d, set := range [DirectionCount]bool{down, up, north, south, west, east} {
		if set {
			value |= Direction(d).bit()
		}
	}
	return value
}

// ParseFacings разбирает короткую запись: "none", "all" или имена сторон через запятую
func ParseFacings(s string) (*Facings, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return FacingsNone, nil
	case "all":
		return FacingsAll, nil
	}

	var value uint8
	for _, part := range strings.Split(s, ",") {
		d, err := ParseDirection(part)
		if err != nil {
			return nil, err
		}
		value |= d.bit()
	}
	return FromBits(value), nil
}

// InternedCount возвращает количество созданных канонических экземпляров
func InternedCount() int {
	facingsMu.RLock()
	defer facingsMu.RUnlock()

	n := 0
	for _, f := range facingsCache {
		if f != nil {
			n++
		}
	}
	return n
}

// Value возвращает битовую маску
func (f *Facings) Value() uint8 {
	return f.value
}

// Hash совпадает со значением маски
func (f *Facings) Hash() int {
	return int(f.value)
}

// IsSet проверяет, установлена ли сторона
func (f *Facings) IsSet(d Direction) bool {
	return f.value&d.bit() != 0
}

// Except возвращает true, если установлена хотя бы одна сторона и при этом d не установлена
func (f *Facings) Except(d Direction) bool {
	return f.Any() && !f.IsSet(d)
}

func (f *Facings) None() bool {
	return f.value == 0
}

func (f *Facings) Any() bool {
	return f.value != 0
}

// Some синоним Any
func (f *Facings) Some() bool {
	return f.Any()
}

func (f *Facings) All() bool {
	return f.value == facingsMask
}

// One возвращает true, если установлена ровно одна сторона
func (f *Facings) One() bool {
	return f.CountWhere(true) == 1
}

func (f *Facings) Down() bool  { return f.IsSet(Down) }
func (f *Facings) Up() bool    { return f.IsSet(Up) }
func (f *Facings) North() bool { return f.IsSet(North) }
func (f *Facings) South() bool { return f.IsSet(South) }
func (f *Facings) West() bool  { return f.IsSet(West) }
func (f *Facings) East() bool  { return f.IsSet(East) }

// IfSet вызывает fn, если сторона установлена
func (f *Facings) IfSet(d Direction, fn func(Direction)) {
	if f.IsSet(d) {
		fn(d)
	}
}

// IfNotSet вызывает fn, если сторона не установлена
func (f *Facings) IfNotSet(d Direction, fn func(Direction)) {
	if !f.IsSet(d) {
		fn(d)
	}
}

// Set возвращает Facings с изменённым состоянием стороны d.
// Исходный экземпляр не меняется; если состояние совпадает, возвращается он же.
func (f *Facings) Set(d Direction, value bool) *Facings {
	next := f.value
	if value {
		next |= d.bit()
	} else {
		next &^= d.bit()
	}

	if next == f.value {
		return f
	}
	return FromBits(next)
}

// CountWhere считает стороны в требуемом состоянии
func (f *Facings) CountWhere(wantSet bool) int {
	set := bits.OnesCount8(f.value)
	if wantSet {
		return set
	}
	return DirectionCount - set
}

// FirstWhere возвращает первую сторону в требуемом состоянии (в порядке объявления)
func (f *Facings) FirstWhere(wantSet bool) (Direction, bool) {
	for _, d := range Directions {
		if f.IsSet(d) == wantSet {
			return d, true
		}
	}
	return 0, false
}

// Directions возвращает установленные стороны в порядке объявления
func (f *Facings) Directions() []Direction {
	result := make([]Direction, 0, f.CountWhere(true))
	for _, d := range Directions {
		if f.IsSet(d) {
			result = append(result, d)
		}
	}
	return result
}

// Offset смещает позицию во все установленные стороны.
// Противоположные стороны взаимно гасятся.
func (f *Facings) Offset(origin vec.Vec3) vec.Vec3 {
	var delta vec.Vec3
	for _, d := range Directions {
		if f.IsSet(d) {
			delta = delta.Add(d.Offset())
		}
	}
	return origin.Add(delta)
}

// ShortString возвращает короткую запись, которую понимает ParseFacings
func (f *Facings) ShortString() string {
	switch {
	case f.None():
		return "none"
	case f.All():
		return "all"
	}

	names := make([]string, 0, DirectionCount)
	for _, d := range f.Directions() {
		names = append(names, d.String())
	}
	return strings.Join(names, ",")
}

// MarshalText кодирует Facings короткой записью (JSON, YAML).
// Обратного UnmarshalText нет: декодирование изменило бы общий экземпляр, используйте ParseFacings.
func (f *Facings) MarshalText() ([]byte, error) {
	return []byte(f.ShortString()), nil
}

func (f *Facings) String() string {
	if f == FacingsNone {
		return "Facings: NONE"
	}

	var sb strings.Builder
	sb.WriteString("Facings: ")
	for _, d := range f.Directions() {
		sb.WriteString(strings.ToUpper(d.String()))
		sb.WriteByte(' ')
	}
	return sb.String()
}
