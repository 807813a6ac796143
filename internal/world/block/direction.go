package block

import (
	"fmt"
	"strings"

	"github.com/annel0/blockkit/internal/vec"
)

// Direction одна из шести сторон блока.
// Значение направления совпадает с номером бита в Facings.
type Direction uint8

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

// DirectionCount количество сторон блока
const DirectionCount = 6

// Axis ось, вдоль которой лежат два противоположных направления
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Plane плоскость: вертикальная (Down/Up) или горизонтальная (остальные четыре)
type Plane uint8

const (
	PlaneVertical Plane = iota
	PlaneHorizontal
)

// directionInfo строка таблицы направлений.
// Порядок строк фиксирует раскладку битов и не должен меняться.
type directionInfo struct {
	name     string
	offset   vec.Vec3
	axis     Axis
	plane    Plane
	opposite Direction
	property string
}

var directionTable = [DirectionCount]directionInfo{
	Down:  {name: "down", offset: vec.Vec3{X: 0, Y: -1, Z: 0}, axis: AxisY, plane: PlaneVertical, opposite: Up, property: PropertyDownFacing},
	Up:    {name: "up", offset: vec.Vec3{X: 0, Y: 1, Z: 0}, axis: AxisY, plane: PlaneVertical, opposite: Down, property: PropertyUpFacing},
	North: {name: "north", offset: vec.Vec3{X: 0, Y: 0, Z: -1}, axis: AxisZ, plane: PlaneHorizontal, opposite: South, property: PropertyNorthFacing},
	South: {name: "south", offset: vec.Vec3{X: 0, Y: 0, Z: 1}, axis: AxisZ, plane: PlaneHorizontal, opposite: North, property: PropertySouthFacing},
	West:  {name: "west", offset: vec.Vec3{X: -1, Y: 0, Z: 0}, axis: AxisX, plane: PlaneHorizontal, opposite: East, property: PropertyWestFacing},
	East:  {name: "east", offset: vec.Vec3{X: 1, Y: 0, Z: 0}, axis: AxisX, plane: PlaneHorizontal, opposite: West, property: PropertyEastFacing},
}

// Directions все направления в порядке объявления (по возрастанию индекса бита)
var Directions = [DirectionCount]Direction{Down, Up, North, South, West, East}

// IsValid проверяет, что значение входит в шесть допустимых направлений
func (d Direction) IsValid() bool {
	return d < DirectionCount
}

// Index возвращает номер бита направления
func (d Direction) Index() int {
	return int(d)
}

// Offset возвращает единичный вектор смещения
func (d Direction) Offset() vec.Vec3 {
	return directionTable[d].offset
}

// Axis возвращает ось направления
func (d Direction) Axis() Axis {
	return directionTable[d].axis
}

// Plane возвращает плоскость направления
func (d Direction) Plane() Plane {
	return directionTable[d].plane
}

// Opposite возвращает противоположное направление
func (d Direction) Opposite() Direction {
	return directionTable[d].opposite
}

// PropertyName имя булева свойства состояния блока для этого направления
func (d Direction) PropertyName() string {
	return directionTable[d].property
}

func (d Direction) String() string {
	if !d.IsValid() {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return directionTable[d].name
}

func (d Direction) bit() uint8 {
	return 1 << d
}

// ParseDirection разбирает имя направления без учёта регистра
func ParseDirection(name string) (Direction, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range Directions {
		if directionTable[d].name == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, name)
}

// Directions возвращает два направления оси
func (a Axis) Directions() (negative, positive Direction) {
	switch a {
	case AxisY:
		return Down, Up
	case AxisZ:
		return North, South
	default:
		return West, East
	}
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", uint8(a))
	}
}

func (p Plane) String() string {
	switch p {
	case PlaneVertical:
		return "vertical"
	case PlaneHorizontal:
		return "horizontal"
	default:
		return fmt.Sprintf("Plane(%d)", uint8(p))
	}
}
