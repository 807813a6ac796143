package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/gin-gonic/gin"
)

// FacingsView описание комбинации сторон
type FacingsView struct {
	Value      uint8           `json:"value"`
	Directions []string        `json:"directions"`
	Count      int             `json:"count"`
	Category   string          `json:"category"`
	Short      string          `json:"short"`
	String     string          `json:"string"`
	Offset     vec.Vec3        `json:"offset"`
	State      map[string]bool `json:"state"`
}

// NewFacingsView строит описание для канонического экземпляра
func NewFacingsView(f *block.Facings) FacingsView {
	dirs := f.Directions()
	names := make([]string, len(dirs))
	for i, d := range dirs {
		names[i] = d.String()
	}

	state := make(map[string]bool, block.DirectionCount)
	for _, d := range block.Directions {
		state[d.PropertyName()] = f.IsSet(d)
	}

	return FacingsView{
		Value:      f.Value(),
		Directions: names,
		Count:      f.CountWhere(true),
		Category:   f.Category().String(),
		Short:      f.ShortString(),
		String:     f.String(),
		Offset:     f.Offset(vec.Vec3{}),
		State:      state,
	}
}

// parseFacingsParam принимает число 0..63 или список имён сторон ("down,up", "all")
func parseFacingsParam(raw string) (*block.Facings, error) {
	if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
		if n > 63 {
			return nil, fmt.Errorf("%w: биты старше пятого зарезервированы: %d", block.ErrInvalidArgument, n)
		}
		return block.FromBits(uint8(n)), nil
	}
	return block.ParseFacings(raw)
}

func (rs *RestServer) handleDescribe(c *gin.Context) {
	f, err := parseFacingsParam(c.Param("bits"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: f.String(),
		Data:    NewFacingsView(f),
	})
}

// OffsetResponse результат смещения точки по сторонам
type OffsetResponse struct {
	Origin vec.Vec3 `json:"origin"`
	Result vec.Vec3 `json:"result"`
}

func (rs *RestServer) handleOffset(c *gin.Context) {
	f, err := parseFacingsParam(c.Param("bits"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var origin vec.Vec3
	for _, q := range []struct {
		name string
		dst  *int
	}{{"x", &origin.X}, {"y", &origin.Y}, {"z", &origin.Z}} {
		v, err := strconv.Atoi(c.DefaultQuery(q.name, "0"))
		if err != nil {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("некорректная координата %s", q.name))
			return
		}
		*q.dst = v
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: f.String(),
		Data:    OffsetResponse{Origin: origin, Result: f.Offset(origin)},
	})
}

// CategoryView категория и её маска
type CategoryView struct {
	Name    string      `json:"name"`
	Facings FacingsView `json:"facings"`
}

func (rs *RestServer) handleCategories(c *gin.Context) {
	views := make([]CategoryView, 0, len(block.Categories))
	for _, cat := range block.Categories {
		views = append(views, CategoryView{Name: cat.String(), Facings: NewFacingsView(cat.Facings())})
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Категории сторон",
		Data:    views,
	})
}
