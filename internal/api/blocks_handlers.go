package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/annel0/blockkit/internal/storage"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/annel0/blockkit/internal/world/multiblock"
	"github.com/gin-gonic/gin"
)

// PutFacingsRequest задаёт стороны числом или списком имён
type PutFacingsRequest struct {
	Value   *uint8 `json:"value"`
	Facings string `json:"facings"`
}

// SetFaceRequest включает или выключает одну сторону
type SetFaceRequest struct {
	Set *bool `json:"set" binding:"required"`
}

// BlockFacingsResponse состояние сторон блока
type BlockFacingsResponse struct {
	Pos     vec.Vec3    `json:"pos"`
	Changed bool        `json:"changed"`
	Facings FacingsView `json:"facings"`
}

// ScanRequest позиции блоков структуры
type ScanRequest struct {
	Positions []vec.Vec3 `json:"positions" binding:"required"`
}

// ExposedView открытые стороны одного блока структуры
type ExposedView struct {
	Pos     vec.Vec3 `json:"pos"`
	Value   uint8    `json:"value"`
	Facings string   `json:"facings"`
}

// ScanResponse результат анализа структуры
type ScanResponse struct {
	Blocks       int           `json:"blocks"`
	Components   int           `json:"components"`
	ExposedFaces int           `json:"exposed_faces"`
	Min          vec.Vec3      `json:"min"`
	Max          vec.Vec3      `json:"max"`
	Shell        []ExposedView `json:"shell"`
	Interior     []vec.Vec3    `json:"interior"`
}

func newScanResponse(report multiblock.Report) ScanResponse {
	resp := ScanResponse{
		Blocks:       len(report.Exposed),
		Components:   report.Components,
		ExposedFaces: report.ExposedFaces,
		Min:          report.Min,
		Max:          report.Max,
		Shell:        make([]ExposedView, 0, len(report.Shell)),
		Interior:     report.Interior,
	}
	if resp.Interior == nil {
		resp.Interior = []vec.Vec3{}
	}
	for _, pos := range report.Shell {
		f := report.Exposed[pos]
		resp.Shell = append(resp.Shell, ExposedView{Pos: pos, Value: f.Value(), Facings: f.ShortString()})
	}
	return resp
}

func parsePos(c *gin.Context) (vec.Vec3, error) {
	var pos vec.Vec3
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
		v, err := strconv.Atoi(c.Param(p.name))
		if err != nil {
			return pos, fmt.Errorf("некорректная координата %s: %q", p.name, c.Param(p.name))
		}
		*p.dst = v
	}
	return pos, nil
}

// statusFor отображает ошибки сервиса в HTTP статусы
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, block.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) serviceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		respondError(c, status, "Внутренняя ошибка сервера")
		return
	}
	respondError(c, status, err.Error())
}

func (rs *RestServer) handleGetBlock(c *gin.Context) {
	pos, err := parsePos(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	f, err := rs.service.Get(c.Request.Context(), pos)
	if err != nil {
		rs.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: f.String(),
		Data:    BlockFacingsResponse{Pos: pos, Facings: NewFacingsView(f)},
	})
}

func (rs *RestServer) handlePutBlock(c *gin.Context) {
	pos, err := parsePos(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req PutFacingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	var f *block.Facings
	switch {
	case req.Value != nil && req.Facings != "":
		respondError(c, http.StatusBadRequest, "Укажите либо value, либо facings")
		return
	case req.Value != nil:
		f, err = parseFacingsParam(strconv.Itoa(int(*req.Value)))
	default:
		f, err = block.ParseFacings(req.Facings)
	}
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	changed, err := rs.service.Put(c.Request.Context(), pos, f)
	if err != nil {
		rs.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: f.String(),
		Data:    BlockFacingsResponse{Pos: pos, Changed: changed, Facings: NewFacingsView(f)},
	})
}

func (rs *RestServer) handleSetFace(c *gin.Context) {
	pos, err := parsePos(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	d, err := block.ParseDirection(c.Param("dir"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req SetFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса: ожидается {\"set\": bool}")
		return
	}

	f, err := rs.service.SetFace(c.Request.Context(), pos, d, *req.Set)
	if err != nil {
		rs.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: f.String(),
		Data:    BlockFacingsResponse{Pos: pos, Facings: NewFacingsView(f)},
	})
}

func (rs *RestServer) handleDeleteBlock(c *gin.Context) {
	pos, err := parsePos(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := rs.service.Delete(c.Request.Context(), pos)
	if err != nil {
		rs.serviceError(c, err)
		return
	}
	if !removed {
		respondError(c, http.StatusNotFound, storage.ErrNotFound.Error())
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Запись удалена"})
}

func (rs *RestServer) handleScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	report, err := rs.service.Scan(c.Request.Context(), req.Positions)
	if err != nil {
		rs.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Структура просканирована",
		Data:    newScanResponse(report),
	})
}
