package block

import "fmt"

// FacingsCategory именованная комбинация сторон, выровненная по осям
type FacingsCategory uint8

const (
	CategoryNone FacingsCategory = iota
	CategoryAll
	CategoryDown
	CategoryUp
	CategoryNorth
	CategorySouth
	CategoryWest
	CategoryEast
	CategoryVertical
	CategoryHorizontal
	CategoryAxisX
	CategoryAxisZ

	// CategoryAxisY ось Y совпадает с вертикальной плоскостью
	CategoryAxisY = CategoryVertical
)

// Categories все категории в порядке объявления
var Categories = []FacingsCategory{
	CategoryNone, CategoryAll,
	CategoryDown, CategoryUp, CategoryNorth, CategorySouth, CategoryWest, CategoryEast,
	CategoryVertical, CategoryHorizontal, CategoryAxisX, CategoryAxisZ,
}

var categoryNames = map[FacingsCategory]string{
	CategoryNone:       "none",
	CategoryAll:        "all",
	CategoryDown:       "down",
	CategoryUp:         "up",
	CategoryNorth:      "north",
	CategorySouth:      "south",
	CategoryWest:       "west",
	CategoryEast:       "east",
	CategoryVertical:   "vertical",
	CategoryHorizontal: "horizontal",
	CategoryAxisX:      "axis_x",
	CategoryAxisZ:      "axis_z",
}

// Facings возвращает канонический экземпляр категории
func (c FacingsCategory) Facings() *Facings {
	switch c {
	case CategoryAll:
		return FacingsAll
	case CategoryDown:
		return FacingsDown
	case CategoryUp:
		return FacingsUp
	case CategoryNorth:
		return FacingsNorth
	case CategorySouth:
		return FacingsSouth
	case CategoryWest:
		return FacingsWest
	case CategoryEast:
		return FacingsEast
	case CategoryVertical:
		return FacingsVertical
	case CategoryHorizontal:
		return FacingsHorizontal
	case CategoryAxisX:
		return FacingsAxisX
	case CategoryAxisZ:
		return FacingsAxisZ
	default:
		return FacingsNone
	}
}

func (c FacingsCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("FacingsCategory(%d)", uint8(c))
}

// Category ищет категорию с точно такой же маской; если её нет, возвращает CategoryNone
func (f *Facings) Category() FacingsCategory {
	for _, c := range Categories {
		if c.Facings().value == f.value {
			return c
		}
	}
	return CategoryNone
}
