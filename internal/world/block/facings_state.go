package block

// Имена булевых свойств состояния блока, по одному на сторону
const (
	PropertyDownFacing  = "downFacing"
	PropertyUpFacing    = "upFacing"
	PropertyWestFacing  = "westFacing"
	PropertyEastFacing  = "eastFacing"
	PropertyNorthFacing = "northFacing"
	PropertySouthFacing = "southFacing"
)

// FacingProperties имена свойств в порядке записи в состояние
var FacingProperties = []string{
	PropertyDownFacing,
	PropertyUpFacing,
	PropertyWestFacing,
	PropertyEastFacing,
	PropertyNorthFacing,
	PropertySouthFacing,
}

// ToState записывает шесть свойств сторон в метаданные блока.
// Если meta == nil, создаются новые метаданные.
func (f *Facings) ToState(meta Metadata) Metadata {
	if meta == nil {
		meta = make(Metadata, DirectionCount)
	}
	for _, d := range Directions {
		meta[d.PropertyName()] = f.IsSet(d)
	}
	return meta
}

// FacingsFromState читает свойства сторон из метаданных блока.
// Отсутствующие и небулевы значения считаются сброшенными.
func FacingsFromState(meta Metadata) *Facings {
	var value uint8
	for _, d := range Directions {
		if set, ok := meta[d.PropertyName()].(bool); ok && set {
			value |= d.bit()
		}
	}
	return FromBits(value)
}
