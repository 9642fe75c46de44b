package handler

import (
	"errors"
	"facility_sync/internal/api/middleware"
	"facility_sync/internal/domain"
	"facility_sync/internal/repository"
	"facility_sync/internal/service"
	"facility_sync/internal/store"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncService *service.SyncService
}

func NewSyncHandler(ss *service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: ss}
}

// GET /api/v1/snapshot/:type
func (h *SyncHandler) GetSnapshot(c *gin.Context) {
	resourceType := domain.ResourceType(c.Param("type"))

	resources, versions, err := h.syncService.Snapshot(resourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Loại resource không hợp lệ", "details": err.Error()})
		return
	}

	versionsByKey := make(map[string]int64, len(versions))
	for key, v := range versions {
		versionsByKey[key.String()] = v
	}
	c.JSON(http.StatusOK, gin.H{
		"resources": resources,
		"versions":  versionsByKey,
		"timestamp": time.Now().UTC(),
	})
}

// POST /api/v1/commands
func (h *SyncHandler) SubmitCommand(c *gin.Context) {
	var dto domain.CommandDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := middleware.UserFromContext(c)
	result, err := h.syncService.SubmitCommand(c.Request.Context(), user, dto)
	if err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeCommandError dịch taxonomy lỗi domain sang HTTP status.
func (h *SyncHandler) writeCommandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Không tìm thấy resource", "details": err.Error()})
	case errors.Is(err, service.ErrAlreadyOccupied),
		errors.Is(err, service.ErrUserAlreadyParked),
		errors.Is(err, service.ErrNotOccupant):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrIneligibleSpotType):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrContention):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Kho lưu trữ tạm thời không khả dụng, vui lòng thử lại"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Không thể xử lý lệnh", "details": err.Error()})
	}
}
