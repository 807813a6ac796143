package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// maxSnapshotSize ограничение тела POST /api/snapshot
const maxSnapshotSize = 64 << 20

// handleExportSnapshot отдаёт снимок всех позиций потоком zstd
func (rs *RestServer) handleExportSnapshot(c *gin.Context) {
	name := fmt.Sprintf("facings-%s.zst", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)

	n, err := rs.service.Export(c.Request.Context(), c.Writer)
	if err != nil {
		// Заголовки уже отправлены; клиент получит обрезанный поток zstd
		_ = c.Error(err)
		rs.log.Error("Экспорт снимка прерван после %d записей: %v", n, err)
		return
	}
	rs.log.Info("Снимок выгружен: %d записей", n)
}

// handleImportSnapshot применяет снимок из тела запроса
func (rs *RestServer) handleImportSnapshot(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxSnapshotSize)

	result, err := rs.service.Import(c.Request.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Снимок слишком большой")
			return
		}
		rs.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимок импортирован",
		Data:    result,
	})
}
