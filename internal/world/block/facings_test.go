package block

import (
	"sync"
	"testing"

	"github.com/annel0/blockkit/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBits_CanonicalIdentity(t *testing.T) {
	for b := 0; b < facingsSpace; b++ {
		first := FromBits(uint8(b))
		second := FromBits(uint8(b))
		assert.Same(t, first, second, "маска %d должна давать один и тот же экземпляр", b)
		assert.Equal(t, uint8(b), first.Value())
		assert.Equal(t, b, first.Hash())
	}
	assert.Equal(t, facingsSpace, InternedCount(), "кеш не может содержать больше 64 экземпляров")
}

func TestFromBits_ReservedBitsMasked(t *testing.T) {
	assert.Same(t, FromBits(0x05), FromBits(0xC5))
	assert.Same(t, FacingsAll, FromBits(0xFF))
}

func TestFromBits_Concurrent(t *testing.T) {
	const workers = 32

	results := make([][facingsSpace]*Facings, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			// Обходим маски в разном порядке, чтобы запросы пересекались
			for i := 0; i < facingsSpace; i++ {
				b := uint8((i + w*7) % facingsSpace)
				results[w][b] = FromBits(b)
			}
		}(w)
	}
	close(start)
	wg.Wait()

	for b := 0; b < facingsSpace; b++ {
		for w := 1; w < workers; w++ {
			require.Same(t, results[0][b], results[w][b], "маска %d: разные экземпляры у горутин", b)
		}
	}
}

func TestFromFlags_RoundTrip(t *testing.T) {
	for b := 0; b < facingsSpace; b++ {
		flags := [DirectionCount]bool{}
		for i := range flags {
			flags[i] = b&(1<<i) != 0
		}

		f := FromFlags(flags[0], flags[1], flags[2], flags[3], flags[4], flags[5])
		for i, d := range Directions {
			assert.Equal(t, flags[i], f.IsSet(d), "маска %d, сторона %s", b, d)
		}
		assert.Equal(t, uint8(b), f.Value())
	}
}

func TestBitLayoutFidelity(t *testing.T) {
	assert.Equal(t, FromDirections(West, East).Value(), FromAxis(AxisX).Value())
	assert.Equal(t, FromDirections(North, South).Value(), FromAxis(AxisZ).Value())
	assert.Same(t, FromDirections(Down, Up), FromAxis(AxisY))
	assert.Same(t, FromPlane(PlaneVertical), FromAxis(AxisY))
	assert.Same(t, FromDirections(North, South, West, East), FromPlane(PlaneHorizontal))
	assert.Same(t, FacingsAxisY, FacingsVertical)

	assert.Equal(t, uint8(0x01), FacingsDown.Value())
	assert.Equal(t, uint8(0x02), FacingsUp.Value())
	assert.Equal(t, uint8(0x04), FacingsNorth.Value())
	assert.Equal(t, uint8(0x08), FacingsSouth.Value())
	assert.Equal(t, uint8(0x10), FacingsWest.Value())
	assert.Equal(t, uint8(0x20), FacingsEast.Value())
	assert.Equal(t, uint8(0x3f), FacingsAll.Value())
}

func TestFromDirections_Duplicates(t *testing.T) {
	assert.Same(t, FacingsAxisX, FromDirections(West, East, West, East))
	assert.Same(t, FacingsNone, FromDirections())
}

func TestFromBoolSlice(t *testing.T) {
	t.Run("Слишком длинный срез", func(t *testing.T) {
		f, err := FromBoolSlice(make([]bool, 7))
		assert.Nil(t, f)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Допустимые длины", func(t *testing.T) {
		for n := 0; n <= DirectionCount; n++ {
			flags := make([]bool, n)
			for i := range flags {
				flags[i] = true
			}
			f, err := FromBoolSlice(flags)
			require.NoError(t, err)
			assert.Equal(t, n, f.CountWhere(true), "длина %d", n)
			for i, d := range Directions {
				assert.Equal(t, i < n, f.IsSet(d), "хвостовые стороны должны быть сброшены")
			}
		}
	})
}

func TestCountWhere(t *testing.T) {
	for b := 0; b < facingsSpace; b++ {
		f := FromBits(uint8(b))
		assert.Equal(t, DirectionCount, f.CountWhere(true)+f.CountWhere(false))
	}
	assert.Equal(t, 6, FacingsAll.CountWhere(true))
	assert.Equal(t, 0, FacingsNone.CountWhere(true))
	assert.Equal(t, 4, FacingsHorizontal.CountWhere(true))
}

func TestPredicates(t *testing.T) {
	assert.True(t, FacingsNone.None())
	assert.False(t, FacingsNone.Any())
	assert.False(t, FacingsNone.Some())
	assert.True(t, FacingsAll.All())
	assert.True(t, FacingsAll.Any())
	assert.False(t, FacingsAll.One())
	assert.True(t, FacingsWest.One())
	assert.False(t, FacingsAxisX.One())

	assert.True(t, FacingsVertical.Down())
	assert.True(t, FacingsVertical.Up())
	assert.False(t, FacingsVertical.North())
	assert.True(t, FacingsHorizontal.South())
	assert.True(t, FacingsHorizontal.West())
	assert.True(t, FacingsHorizontal.East())
}

func TestExcept(t *testing.T) {
	assert.False(t, FacingsNone.Except(Down), "пустой набор")
	assert.False(t, FacingsDown.Except(Down), "единственная сторона исключена")
	assert.True(t, FacingsDown.Except(Up))
	assert.False(t, FacingsVertical.Except(Down), "d установлена, результат false")
	assert.True(t, FacingsHorizontal.Except(Up))
}

func TestFirstWhere(t *testing.T) {
	d, ok := FacingsHorizontal.FirstWhere(true)
	assert.True(t, ok)
	assert.Equal(t, North, d)

	d, ok = FacingsHorizontal.FirstWhere(false)
	assert.True(t, ok)
	assert.Equal(t, Down, d)

	_, ok = FacingsNone.FirstWhere(true)
	assert.False(t, ok)

	_, ok = FacingsAll.FirstWhere(false)
	assert.False(t, ok)

	d, ok = FromDirections(East, South).FirstWhere(true)
	assert.True(t, ok)
	assert.Equal(t, South, d)
}

func TestOffset(t *testing.T) {
	origins := []vec.Vec3{{}, {X: 10, Y: 64, Z: -3}, {X: -100, Y: 0, Z: 7}}

	for _, origin := range origins {
		assert.Equal(t, origin, FacingsAll.Offset(origin), "противоположные стороны гасятся")
		assert.Equal(t, origin, FacingsNone.Offset(origin))
		assert.Equal(t, origin, FacingsHorizontal.Offset(origin))

		down := FacingsDown.Offset(origin)
		assert.Equal(t, vec.Vec3{X: origin.X, Y: origin.Y - 1, Z: origin.Z}, down)
	}

	got := FromDirections(Up, East, South).Offset(vec.Vec3{X: 1, Y: 2, Z: 3})
	assert.Equal(t, vec.Vec3{X: 2, Y: 3, Z: 4}, got)
}

func TestSet(t *testing.T) {
	t.Run("Идемпотентность", func(t *testing.T) {
		for b := 0; b < facingsSpace; b++ {
			x := FromBits(uint8(b))
			for _, d := range Directions {
				assert.Same(t, x, x.Set(d, x.IsSet(d)))
			}
		}
	})

	t.Run("Новый канонический экземпляр", func(t *testing.T) {
		f := FacingsNone.Set(West, true)
		assert.Same(t, FacingsWest, f)

		f = f.Set(East, true)
		assert.Same(t, FacingsAxisX, f)

		f = FacingsAll.Set(Down, false).Set(Up, false)
		assert.Same(t, FacingsHorizontal, f)

		// Исходные константы не изменились
		assert.Equal(t, uint8(0), FacingsNone.Value())
		assert.Equal(t, uint8(0x3f), FacingsAll.Value())
	})
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryVertical, FromAxis(AxisY).Category())
	assert.Equal(t, CategoryAxisY, FromAxis(AxisY).Category())
	assert.Equal(t, CategoryAxisX, FromAxis(AxisX).Category())
	assert.Equal(t, CategoryAxisZ, FromAxis(AxisZ).Category())
	assert.Equal(t, CategoryHorizontal, FacingsHorizontal.Category())
	assert.Equal(t, CategoryAll, FacingsAll.Category())
	assert.Equal(t, CategoryEast, FacingsEast.Category())

	// Произвольная трёхбитовая маска, не совпадающая ни с одной категорией
	assert.Equal(t, CategoryNone, FromDirections(Down, North, East).Category())

	for _, c := range Categories {
		assert.Equal(t, c, c.Facings().Category(), "категория %s", c)
	}
	assert.Len(t, Categories, 12)
}

func TestIfSet(t *testing.T) {
	var called []Direction
	collect := func(d Direction) { called = append(called, d) }

	FacingsVertical.IfSet(Up, collect)
	FacingsVertical.IfSet(North, collect)
	FacingsVertical.IfNotSet(North, collect)
	FacingsVertical.IfNotSet(Down, collect)

	assert.Equal(t, []Direction{Up, North}, called)
}

func TestStringAndParse(t *testing.T) {
	assert.Equal(t, "Facings: NONE", FacingsNone.String())
	assert.Equal(t, "Facings: DOWN UP ", FacingsVertical.String())
	assert.Equal(t, "down,east", FromDirections(East, Down).ShortString())
	assert.Equal(t, "all", FacingsAll.ShortString())

	for b := 0; b < facingsSpace; b++ {
		f := FromBits(uint8(b))
		parsed, err := ParseFacings(f.ShortString())
		require.NoError(t, err)
		assert.Same(t, f, parsed)
	}

	_, err := ParseFacings("up,sideways")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	text, err := FacingsAxisZ.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "north,south", string(text))
}

func TestFacingsState(t *testing.T) {
	meta := FromDirections(Down, West).ToState(nil)
	assert.Len(t, meta, 6)
	assert.Equal(t, true, meta[PropertyDownFacing])
	assert.Equal(t, true, meta[PropertyWestFacing])
	assert.Equal(t, false, meta[PropertyUpFacing])
	assert.Equal(t, false, meta[PropertyNorthFacing])

	assert.Same(t, FromDirections(Down, West), FacingsFromState(meta))

	// Посторонние ключи сохраняются, небулевы значения игнорируются
	meta = Metadata{"level": 3, PropertyEastFacing: "yes", PropertyUpFacing: true}
	assert.Same(t, FacingsUp, FacingsFromState(meta))
	FacingsAll.ToState(meta)
	assert.Equal(t, 3, meta["level"])
	assert.Same(t, FacingsAll, FacingsFromState(meta))
}

func TestDirectionTable(t *testing.T) {
	for i, d := range Directions {
		assert.Equal(t, i, d.Index())
		assert.Equal(t, d, d.Opposite().Opposite())
		assert.Equal(t, vec.Zero, d.Offset().Add(d.Opposite().Offset()))
		assert.Equal(t, 1, d.Offset().ManhattanDistance(vec.Zero))
		assert.Equal(t, d.Axis(), d.Opposite().Axis())

		parsed, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}

	assert.Equal(t, PlaneVertical, Down.Plane())
	assert.Equal(t, PlaneHorizontal, West.Plane())
	assert.Equal(t, AxisZ, North.Axis())
	assert.Equal(t, "northFacing", North.PropertyName())

	neg, pos := AxisX.Directions()
	assert.Equal(t, West, neg)
	assert.Equal(t, East, pos)

	_, err := ParseDirection("diagonal")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
